package cpu

import (
	"github.com/pkg/errors"
)

// Regs is a fixed-size integer register file. Register 0 may be hardwired to
// zero, as it is on RISC-V.
type Regs struct {
	mask     uint64
	zeroReg0 bool
	vals     []uint64
}

func NewRegs(bits uint, count int, zeroReg0 bool) *Regs {
	return &Regs{
		mask:     ^uint64(0) >> (64 - bits),
		zeroReg0: zeroReg0,
		vals:     make([]uint64, count),
	}
}

func (r *Regs) Count() int { return len(r.vals) }

func (r *Regs) RegRead(enum int) (uint64, error) {
	if enum < 0 || enum >= len(r.vals) {
		return 0, errors.Errorf("invalid register %d", enum)
	}
	return r.vals[enum], nil
}

func (r *Regs) RegWrite(enum int, val uint64) error {
	if enum < 0 || enum >= len(r.vals) {
		return errors.Errorf("invalid register %d", enum)
	}
	if enum == 0 && r.zeroReg0 {
		return nil
	}
	r.vals[enum] = val & r.mask
	return nil
}

// Get and Set skip bounds errors for interpreter hot paths.
func (r *Regs) Get(enum int) uint64 { return r.vals[enum] }

func (r *Regs) Set(enum int, val uint64) {
	if enum == 0 && r.zeroReg0 {
		return
	}
	r.vals[enum] = val & r.mask
}

// Reset zeroes every register.
func (r *Regs) Reset() {
	clear(r.vals)
}

func (r *Regs) ContextSave(reuse interface{}) (interface{}, error) {
	var m []uint64
	if reuse != nil {
		var ok bool
		if m, ok = reuse.([]uint64); !ok || len(m) != len(r.vals) {
			return nil, errors.New("incorrect context type")
		}
	} else {
		m = make([]uint64, len(r.vals))
	}
	copy(m, r.vals)
	return m, nil
}

func (r *Regs) ContextRestore(ctx interface{}) error {
	m, ok := ctx.([]uint64)
	if !ok || len(m) != len(r.vals) {
		return errors.New("incorrect context type")
	}
	copy(r.vals, m)
	if r.zeroReg0 {
		r.vals[0] = 0
	}
	return nil
}
