package trap

import (
	"bytes"
	"encoding/binary"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/tinyrv/rvkern/go/cpu/rv32"
	"github.com/tinyrv/rvkern/go/models"
	"github.com/tinyrv/rvkern/go/models/cpu"
)

// Frame is the register snapshot pushed on the kernel stack by trap entry.
// Field order is the in-memory layout.
type Frame struct {
	RA, GP, TP                 uint32
	T0, T1, T2, T3, T4, T5, T6 uint32
	A0, A1, A2, A3, A4, A5, A6 uint32
	A7                         uint32
	S0, S1, S2, S3, S4, S5     uint32
	S6, S7, S8, S9, S10, S11   uint32
	// user stack pointer, taken from sscratch after the swap
	SP uint32
}

const (
	FrameWords = 31
	FrameSize  = FrameWords * 4
)

// register numbers in frame order
var frameRegs = [FrameWords]int{
	rv32.RA, rv32.GP, rv32.TP,
	rv32.T0, rv32.T1, rv32.T2, rv32.T3, rv32.T4, rv32.T5, rv32.T6,
	rv32.A0, rv32.A1, rv32.A2, rv32.A3, rv32.A4, rv32.A5, rv32.A6, rv32.A7,
	rv32.S0, rv32.S1, rv32.S2, rv32.S3, rv32.S4, rv32.S5,
	rv32.S6, rv32.S7, rv32.S8, rv32.S9, rv32.S10, rv32.S11,
	rv32.SP,
}

func (f *Frame) slots() [FrameWords]*uint32 {
	return [FrameWords]*uint32{
		&f.RA, &f.GP, &f.TP,
		&f.T0, &f.T1, &f.T2, &f.T3, &f.T4, &f.T5, &f.T6,
		&f.A0, &f.A1, &f.A2, &f.A3, &f.A4, &f.A5, &f.A6, &f.A7,
		&f.S0, &f.S1, &f.S2, &f.S3, &f.S4, &f.S5,
		&f.S6, &f.S7, &f.S8, &f.S9, &f.S10, &f.S11,
		&f.SP,
	}
}

// Regs lists the frame in layout order for dumps.
func (f *Frame) Regs() []models.NamedReg {
	regs := make([]models.NamedReg, FrameWords)
	for i, p := range f.slots() {
		regs[i] = models.NamedReg{Name: rv32.RegNames[frameRegs[i]], Val: uint64(*p)}
	}
	return regs
}

func (f *Frame) values() []uint64 {
	vals := make([]uint64, FrameWords)
	for i, p := range f.slots() {
		vals[i] = uint64(*p)
	}
	return vals
}

// save copies every register except sp from the hart.
func (f *Frame) save(h *rv32.Hart) {
	for i, p := range f.slots() {
		if frameRegs[i] != rv32.SP {
			*p = uint32(h.Get(frameRegs[i]))
		}
	}
}

func (f *Frame) restore(h *rv32.Hart) {
	for i, p := range f.slots() {
		h.Set(frameRegs[i], uint64(*p))
	}
}

// Store packs the frame into physical memory at addr.
func (f *Frame) Store(bus *cpu.Bus, addr uint32) error {
	var buf bytes.Buffer
	if err := struc.PackWithOrder(&buf, f, binary.LittleEndian); err != nil {
		return errors.Wrap(err, "packing trap frame")
	}
	return bus.MemWrite(uint64(addr), buf.Bytes())
}

// Load unpacks the frame stored at addr.
func (f *Frame) Load(bus *cpu.Bus, addr uint32) error {
	raw, err := bus.MemRead(uint64(addr), FrameSize)
	if err != nil {
		return err
	}
	return errors.Wrap(struc.UnpackWithOrder(bytes.NewReader(raw), f, binary.LittleEndian), "unpacking trap frame")
}
