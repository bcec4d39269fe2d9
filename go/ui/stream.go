package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/tinyrv/rvkern/go/cpu/rv32"
	"github.com/tinyrv/rvkern/go/models"
	"github.com/tinyrv/rvkern/go/models/trace"
)

func pad(s string, to int) string {
	if len(s) >= to {
		return ""
	}
	return strings.Repeat(" ", to-len(s))
}

// StreamUI prints a trap trace one record per line.
type StreamUI struct {
	config *models.Config
	// syscall names by number
	names  map[uint32]string
	header *trace.TraceHeader
	count  int
}

func NewStreamUI(c *models.Config, names map[uint32]string) *StreamUI {
	return &StreamUI{config: c, names: names}
}

func (s *StreamUI) Printf(f string, args ...interface{}) { fmt.Fprintf(s.config.Output, f, args...) }
func (s *StreamUI) Println(args ...interface{})          { fmt.Fprintln(s.config.Output, args...) }

func (s *StreamUI) OnStart(h *trace.TraceHeader) {
	s.header = h
	if !s.config.Verbose {
		return
	}
	s.Printf("[ram %#x-%#x]\n", h.RAMBase, uint64(h.RAMBase)+uint64(h.RAMSize))
	s.Printf("[user base %#x]\n", h.UserBase)
}

func (s *StreamUI) Feed(rec *trace.Record) {
	s.count++
	pid := fmt.Sprintf("[pid %d]", rec.PID)
	if rec.Cause == rv32.CauseEcallU {
		s.sysPrint(pid, rec)
		return
	}
	desc := rv32.CauseName(rec.Cause)
	s.Printf("%s%s %s%s sepc=%#08x stval=%#x\n", pid, pad(pid, 9), desc, pad(desc, 32), rec.Epc, rec.Tval)
}

// sysPrint names the call when the number is known
func (s *StreamUI) sysPrint(pid string, rec *trace.Record) {
	name, ok := s.names[rec.Sysno]
	if !ok {
		name = fmt.Sprintf("syscall(%d)", rec.Sysno)
	}
	s.Printf("%s%s %s%s sepc=%#08x\n", pid, pad(pid, 9), name, pad(name, 32), rec.Epc)
}

func (s *StreamUI) OnExit() {
	if s.config.Verbose {
		s.Printf("[%d traps]\n", s.count)
	}
}

// Play prints every record from r.
func (s *StreamUI) Play(r *trace.TraceReader) error {
	s.OnStart(&r.Header)
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return errors.Wrapf(err, "after %d records", s.count)
		}
		s.Feed(rec)
	}
	s.OnExit()
	return nil
}
