// Package trap is the supervisor trap path: it saves the interrupted user
// registers on the per-process kernel stack, classifies scause and hands
// system calls to the kernel.
package trap

import (
	"log/slog"

	"github.com/tinyrv/rvkern/go/cpu/rv32"
	"github.com/tinyrv/rvkern/go/kernel/halt"
	"github.com/tinyrv/rvkern/go/models"
	"github.com/tinyrv/rvkern/go/models/cpu"
)

// Info is the trap as read from the cause CSRs.
type Info struct {
	Cause, Tval, Epc uint32
}

type Dispatcher struct {
	hart  *rv32.Hart
	bus   *cpu.Bus
	halt  *halt.Halter
	log   *slog.Logger
	color bool

	// Syscall handles ecall from U-mode. The number is in f.A3 and the
	// result goes in f.A0.
	Syscall func(f *Frame)
	// OnTrap, if set, observes every trap before dispatch.
	OnTrap func(f *Frame, info Info)

	// last frame per address space, for highlighting in fatal dumps
	last map[uint32][]uint64
}

func NewDispatcher(hart *rv32.Hart, halter *halt.Halter, log *slog.Logger, color bool) *Dispatcher {
	return &Dispatcher{
		hart:  hart,
		bus:   hart.Bus(),
		halt:  halter,
		log:   log,
		color: color,
		last:  make(map[uint32][]uint64),
	}
}

// Entry runs the trap path for a hart that has just taken a trap from
// U-mode and returns it to the interrupted context with sret.
func (d *Dispatcher) Entry() {
	h := d.hart
	if !h.InTrap() {
		d.halt.Fatalf("trap entry without a pending trap")
	}
	if h.CsrRead(rv32.SSTATUS)&rv32.SSTATUS_SPP != 0 {
		d.halt.Fatalf("nested trap: scause=%x sepc=%x", h.CsrRead(rv32.SCAUSE), h.CsrRead(rv32.SEPC))
	}

	// csrrw sp, sscratch, sp
	usp := h.Get(rv32.SP)
	ksp := uint32(h.CsrRead(rv32.SSCRATCH))
	h.CsrWrite(rv32.SSCRATCH, usp)
	h.Set(rv32.SP, uint64(ksp))

	sp := ksp - FrameSize
	var f Frame
	f.save(h)
	f.SP = uint32(h.CsrRead(rv32.SSCRATCH))
	if err := f.Store(d.bus, sp); err != nil {
		d.halt.Fatalf("saving trap frame at %x: %v", sp, err)
	}
	// reset the kernel stack top for the next trap
	h.CsrWrite(rv32.SSCRATCH, uint64(sp+FrameSize))
	h.Set(rv32.SP, uint64(sp))

	d.handle(sp)

	if err := f.Load(d.bus, sp); err != nil {
		d.halt.Fatalf("restoring trap frame at %x: %v", sp, err)
	}
	f.restore(h)
	h.Sret()
}

// handle dispatches on scause with the frame at sp. The frame may be
// rewritten by the system call.
func (d *Dispatcher) handle(sp uint32) {
	h := d.hart
	info := Info{
		Cause: uint32(h.CsrRead(rv32.SCAUSE)),
		Tval:  uint32(h.CsrRead(rv32.STVAL)),
		Epc:   uint32(h.CsrRead(rv32.SEPC)),
	}
	userPC := info.Epc
	satp := uint32(h.CsrRead(rv32.SATP))

	var f Frame
	if err := f.Load(d.bus, sp); err != nil {
		d.halt.Fatalf("reading trap frame at %x: %v", sp, err)
	}
	if d.OnTrap != nil {
		d.OnTrap(&f, info)
	}
	prev := d.last[satp]
	d.halt.SetDump(func() string {
		return models.FrameDump(f.Regs(), prev, d.color)
	})

	switch info.Cause {
	case rv32.CauseEcallU:
		if d.Syscall == nil {
			d.halt.Fatalf("unexpected syscall a3=%x", f.A3)
		}
		d.Syscall(&f)
		userPC += 4
	case rv32.CauseLoadPageFault:
		d.halt.Fatalf("PAGE LOAD FAULT!!! paging is not supported. offending instr at addr %x tried accessing %x", userPC, info.Tval)
	case rv32.CauseStorePageFault:
		d.halt.Fatalf("PAGE STORE FAULT!!! paging is not supported. offending instr at addr %x tried accessing %x", userPC, info.Tval)
	default:
		d.halt.Fatalf("UNRECOGNIZED EXCEPTION: scause=%x, stval=%x, sepc=%x", info.Cause, info.Tval, userPC)
	}

	d.last[satp] = f.values()
	if err := f.Store(d.bus, sp); err != nil {
		d.halt.Fatalf("writing trap frame at %x: %v", sp, err)
	}
	h.CsrWrite(rv32.SEPC, uint64(userPC))
}

// Forget drops the saved dump state for an address space that went away.
func (d *Dispatcher) Forget(satp uint32) {
	delete(d.last, satp)
}
