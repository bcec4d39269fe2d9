// Package proc owns the fixed process table and the cooperative
// round-robin scheduler. Processes are referenced by slot index.
package proc

import (
	"fmt"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/tinyrv/rvkern/go/cpu/rv32"
	"github.com/tinyrv/rvkern/go/kernel/ctxsw"
	"github.com/tinyrv/rvkern/go/kernel/sv32"
	"github.com/tinyrv/rvkern/go/models"
	"github.com/tinyrv/rvkern/go/models/cpu"
)

var ErrTableFull = errors.New("process table full")

type State int

const (
	Unused State = iota
	Runnable
	// Exited slots keep their exit code until the slot is reused.
	Exited
)

func (s State) String() string {
	switch s {
	case Unused:
		return "unused"
	case Runnable:
		return "runnable"
	case Exited:
		return "exited"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// PCB is a process control block.
type PCB struct {
	Slot  int
	PID   int
	State State
	// physical address of the root page table
	Root      uint32
	KStack    uint32
	KStackTop uint32
	Context   *ctxsw.Context
	ImageSize uint32
	ExitCode  int
}

// Satp is the satp value selecting this process's address space.
func (p *PCB) Satp() uint32 {
	return rv32.SATP_SV32 | p.Root/sv32.PageSize
}

type Table struct {
	procs   []PCB
	current int
	nextPID int

	bus    *cpu.Bus
	alloc  sv32.Allocator
	mapper *sv32.Mapper
	hart   cpu.Cpu
	sw     *ctxsw.Switcher
	layout models.Layout
	kstack uint32
	log    *slog.Logger

	// Entry is the user-entry trampoline a fresh process starts in.
	Entry func(p *PCB)
}

func NewTable(cfg *models.Config, bus *cpu.Bus, alloc sv32.Allocator, mapper *sv32.Mapper, hart cpu.Cpu, sw *ctxsw.Switcher) *Table {
	return &Table{
		procs:  make([]PCB, cfg.ProcsMax),
		bus:    bus,
		alloc:  alloc,
		mapper: mapper,
		hart:   hart,
		sw:     sw,
		layout: cfg.Layout,
		kstack: uint32(cfg.KernelStackPages),
		log:    cfg.Logger(),
	}
}

func (t *Table) Len() int { return len(t.procs) }

// Get returns the PCB in slot.
func (t *Table) Get(slot int) *PCB { return &t.procs[slot] }

func (t *Table) Current() *PCB { return &t.procs[t.current] }

// Runnable counts runnable processes other than idle.
func (t *Table) Runnable() int {
	n := 0
	for i := range t.procs {
		if t.procs[i].State == Runnable && t.procs[i].PID != 0 {
			n++
		}
	}
	return n
}

// build allocates the parts every process has: a kernel stack and a root table
// with the kernel range mapped.
func (t *Table) build(p *PCB) error {
	kstack, err := t.alloc.Alloc(t.kstack)
	if err != nil {
		return errors.Wrap(err, "kernel stack")
	}
	p.KStack = kstack
	p.KStackTop = kstack + t.kstack*sv32.PageSize
	if p.Root, err = t.mapper.NewTable(); err != nil {
		return errors.Wrap(err, "page table")
	}
	l := t.layout
	err = t.mapper.MapRange(p.Root, l.KernelBase, l.KernelBase, l.FreeRAMEnd-l.KernelBase,
		rv32.PTE_R|rv32.PTE_W|rv32.PTE_X)
	return errors.Wrap(err, "mapping kernel")
}

func (t *Table) slot() (*PCB, error) {
	for i := range t.procs {
		if s := t.procs[i].State; s == Unused || s == Exited {
			t.procs[i] = PCB{Slot: i, PID: t.nextPID}
			t.nextPID++
			return &t.procs[i], nil
		}
	}
	return nil, ErrTableFull
}

// CreateIdle installs the calling goroutine as the idle process, pid 0 in
// slot 0. It must be the first process created.
func (t *Table) CreateIdle() (*PCB, error) {
	if t.nextPID != 0 {
		return nil, errors.New("idle process must be created first")
	}
	p, err := t.slot()
	if err != nil {
		return nil, err
	}
	if err := t.build(p); err != nil {
		return nil, err
	}
	p.Context = ctxsw.Adopt("idle")
	p.State = Runnable
	t.current = p.Slot
	t.publish(p)
	return p, nil
}

// Create loads image at the user base and makes it runnable. The image is
// copied one page at a time into fresh frames, the tail of the last page
// left zeroed.
func (t *Table) Create(image []byte) (*PCB, error) {
	p, err := t.slot()
	if err != nil {
		return nil, err
	}
	if err := t.build(p); err != nil {
		return nil, err
	}
	for off := 0; off < len(image); off += sv32.PageSize {
		page, err := t.alloc.Alloc(1)
		if err != nil {
			return nil, errors.Wrap(err, "image page")
		}
		end := off + sv32.PageSize
		if end > len(image) {
			end = len(image)
		}
		if err := t.bus.MemWrite(uint64(page), image[off:end]); err != nil {
			return nil, err
		}
		va := t.layout.UserBase + uint32(off)
		if err := t.mapper.Map(p.Root, va, page, rv32.PTE_U|rv32.PTE_R|rv32.PTE_W|rv32.PTE_X); err != nil {
			return nil, errors.Wrapf(err, "mapping image page %#x", va)
		}
	}
	p.ImageSize = uint32(len(image))
	p.Context = ctxsw.New(fmt.Sprintf("pid %d", p.PID), func() { t.Entry(p) })
	p.State = Runnable
	t.log.Debug("process created", "pid", p.PID, "slot", p.Slot, "size", len(image), "root", fmt.Sprintf("%#x", p.Root))
	return p, nil
}

// publish makes p's address space and trap stack the ones the next trap
// entry will use.
func (t *Table) publish(p *PCB) {
	t.hart.CsrWrite(rv32.SATP, uint64(p.Satp()))
	t.hart.CsrWrite(rv32.SSCRATCH, uint64(p.KStackTop))
}

// pick scans forward from the slot after the current one for a runnable
// process other than idle, falling back to idle.
func (t *Table) pick() int {
	n := len(t.procs)
	for i := 1; i <= n; i++ {
		s := (t.current + i) % n
		if t.procs[s].State == Runnable && t.procs[s].PID != 0 {
			return s
		}
	}
	return 0
}

// Yield gives the hart to the next runnable process and returns when the
// caller is scheduled again. It returns false without switching when the
// caller is the only candidate.
func (t *Table) Yield() bool {
	next := t.pick()
	if next == t.current {
		return false
	}
	prev := &t.procs[t.current]
	np := &t.procs[next]
	t.publish(np)
	t.current = next
	t.sw.Switch(prev.Context, np.Context)
	return true
}

// Exit ends the current process. Its slot becomes reusable; its pages are
// not reclaimed. Exit does not return.
func (t *Table) Exit(code int) {
	p := &t.procs[t.current]
	if p.PID == 0 {
		panic("idle process cannot exit")
	}
	p.State = Exited
	p.ExitCode = code
	t.log.Info("process exited", "pid", p.PID, "code", code)
	next := t.pick()
	np := &t.procs[next]
	t.publish(np)
	t.current = next
	t.sw.Exit(np.Context)
}
