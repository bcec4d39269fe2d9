// Package sbi is the machine-mode firmware the supervisor kernel calls into
// for console I/O. Calls follow the SBI convention: extension id in a7,
// function id in a6, arguments in a0..a5, error in a0 and value in a1.
package sbi

import (
	"log/slog"

	"github.com/tinyrv/rvkern/go/models"
)

// legacy extension ids
const (
	EIDConsolePutChar = 0x01
	EIDConsoleGetChar = 0x02
)

const (
	Success         = 0
	ErrFailed       = -1
	ErrNotSupported = -2
)

type Ret struct {
	Error int32
	Value int32
}

type Firmware struct {
	console models.Console
	log     *slog.Logger
}

func New(console models.Console, log *slog.Logger) *Firmware {
	return &Firmware{console: console, log: log}
}

// Call dispatches one firmware call. The legacy console extensions return
// their result in the error slot (a0), as real firmware does.
func (f *Firmware) Call(args [6]uint32, fid, eid uint32) Ret {
	switch eid {
	case EIDConsolePutChar:
		if err := f.console.PutChar(byte(args[0])); err != nil {
			f.log.Warn("console write failed", "err", err)
			return Ret{Error: ErrFailed}
		}
		return Ret{Error: Success}
	case EIDConsoleGetChar:
		if c, ok := f.console.GetChar(); ok {
			return Ret{Error: int32(c)}
		}
		return Ret{Error: -1}
	}
	f.log.Debug("unsupported firmware call", "eid", eid, "fid", fid)
	return Ret{Error: ErrNotSupported}
}

func (f *Firmware) PutChar(c byte) {
	f.Call([6]uint32{uint32(c)}, 0, EIDConsolePutChar)
}

// GetChar returns -1 when no character is pending.
func (f *Firmware) GetChar() int32 {
	return f.Call([6]uint32{}, 0, EIDConsoleGetChar).Error
}
