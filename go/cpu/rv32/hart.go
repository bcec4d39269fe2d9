package rv32

import (
	"math"

	"github.com/pkg/errors"

	"github.com/tinyrv/rvkern/go/models/cpu"
)

// how many instructions run between stop checks
const stopInterval = 1024

// Hart is a single RV32IM hardware thread with U and S privilege levels.
// Only U-mode code is interpreted; S-mode is where the kernel (Go code)
// runs, so taking a trap returns control from Run.
type Hart struct {
	*cpu.Regs
	bus *cpu.Bus

	pc   uint32
	priv int

	sstatus  uint32
	stvec    uint32
	sscratch uint32
	sepc     uint32
	scause   uint32
	stval    uint32
	satp     uint32

	inTrap bool
	// Steps counts retired instructions.
	Steps uint64
}

var _ cpu.Cpu = &Hart{}

func New(bus *cpu.Bus) *Hart {
	return &Hart{
		Regs: cpu.NewRegs(32, 32, true),
		bus:  bus,
		priv: PrivS,
	}
}

func (h *Hart) PC() uint32     { return h.pc }
func (h *Hart) Priv() int      { return h.priv }
func (h *Hart) InTrap() bool   { return h.inTrap }
func (h *Hart) Bus() *cpu.Bus  { return h.bus }
func (h *Hart) SetPC(pc uint32) { h.pc = pc }

func (h *Hart) CsrRead(csr int) uint64 {
	switch csr {
	case SSTATUS:
		return uint64(h.sstatus)
	case STVEC:
		return uint64(h.stvec)
	case SSCRATCH:
		return uint64(h.sscratch)
	case SEPC:
		return uint64(h.sepc)
	case SCAUSE:
		return uint64(h.scause)
	case STVAL:
		return uint64(h.stval)
	case SATP:
		return uint64(h.satp)
	}
	return 0
}

func (h *Hart) CsrWrite(csr int, val uint64) {
	v := uint32(val)
	switch csr {
	case SSTATUS:
		h.sstatus = v & (SSTATUS_SIE | SSTATUS_SPIE | SSTATUS_SPP)
	case STVEC:
		h.stvec = v &^ 3
	case SSCRATCH:
		h.sscratch = v
	case SEPC:
		h.sepc = v &^ 3
	case SCAUSE:
		h.scause = v
	case STVAL:
		h.stval = v
	case SATP:
		h.satp = v
	}
}

// take latches a synchronous trap into S-mode.
func (h *Hart) take(cause, tval uint32) {
	h.sepc = h.pc
	h.scause = cause
	h.stval = tval
	status := h.sstatus &^ (SSTATUS_SPP | SSTATUS_SPIE | SSTATUS_SIE)
	if h.priv == PrivS {
		status |= SSTATUS_SPP
	}
	if h.sstatus&SSTATUS_SIE != 0 {
		status |= SSTATUS_SPIE
	}
	h.sstatus = status
	h.priv = PrivS
	h.pc = h.stvec
	h.inTrap = true
}

func (h *Hart) Sret() {
	if h.sstatus&SSTATUS_SPP != 0 {
		h.priv = PrivS
	} else {
		h.priv = PrivU
	}
	status := h.sstatus &^ (SSTATUS_SPP | SSTATUS_SIE)
	if h.sstatus&SSTATUS_SPIE != 0 {
		status |= SSTATUS_SIE
	}
	h.sstatus = status | SSTATUS_SPIE
	h.pc = h.sepc
	h.inTrap = false
}

func (h *Hart) EnterUser(pc uint64) {
	h.sepc = uint32(pc)
	h.sstatus = SSTATUS_SPIE
	h.Sret()
}

// Run interprets user code until a trap is taken. stop is polled every few
// instructions and may be nil.
func (h *Hart) Run(stop func() bool) error {
	if h.priv != PrivU {
		return errors.New("Run called outside user mode")
	}
	for n := 0; ; n++ {
		if n%stopInterval == stopInterval-1 && stop != nil && stop() {
			return cpu.ErrStopped
		}
		if exc := h.step(); exc != nil {
			h.take(exc.cause, exc.tval)
			return nil
		}
		h.Steps++
	}
}

func (h *Hart) reg(n uint32) uint32 { return uint32(h.Get(int(n))) }

func (h *Hart) setReg(n uint32, val uint32) { h.Set(int(n), uint64(val)) }

func immI(ins uint32) uint32 { return uint32(int32(ins) >> 20) }

func immS(ins uint32) uint32 {
	return uint32(int32(ins)>>25)<<5 | (ins>>7)&0x1f
}

func immB(ins uint32) uint32 {
	imm := (ins>>31)&1<<12 | (ins>>7)&1<<11 | (ins>>25)&0x3f<<5 | (ins>>8)&0xf<<1
	return uint32(cpu.SignExtend(uint64(imm), 13))
}

func immJ(ins uint32) uint32 {
	imm := (ins>>31)&1<<20 | (ins>>12)&0xff<<12 | (ins>>20)&1<<11 | (ins>>21)&0x3ff<<1
	return uint32(cpu.SignExtend(uint64(imm), 21))
}

func (h *Hart) illegal(ins uint32) *exception {
	return &exception{cause: CauseIllegal, tval: ins}
}

// step executes one instruction. On an exception the pc is left pointing at
// the faulting instruction.
func (h *Hart) step() *exception {
	ins, exc := h.fetch(h.pc)
	if exc != nil {
		return exc
	}
	if ins&3 != 3 {
		return h.illegal(ins)
	}
	rd := (ins >> 7) & 0x1f
	f3 := (ins >> 12) & 7
	rs1 := (ins >> 15) & 0x1f
	rs2 := (ins >> 20) & 0x1f
	f7 := ins >> 25
	next := h.pc + instructionSizeBytes

	switch ins & 0x7f {
	case OP_LUI:
		h.setReg(rd, ins&0xfffff000)
	case OP_AUIPC:
		h.setReg(rd, h.pc+ins&0xfffff000)
	case OP_JAL:
		target := h.pc + immJ(ins)
		if target&3 != 0 {
			return &exception{cause: CauseInsnMisaligned, tval: target}
		}
		h.setReg(rd, next)
		next = target
	case OP_JALR:
		if f3 != 0 {
			return h.illegal(ins)
		}
		target := (h.reg(rs1) + immI(ins)) &^ 1
		if target&3 != 0 {
			return &exception{cause: CauseInsnMisaligned, tval: target}
		}
		h.setReg(rd, next)
		next = target
	case OP_BRANCH:
		a, b := h.reg(rs1), h.reg(rs2)
		var taken bool
		switch f3 {
		case 0:
			taken = a == b
		case 1:
			taken = a != b
		case 4:
			taken = int32(a) < int32(b)
		case 5:
			taken = int32(a) >= int32(b)
		case 6:
			taken = a < b
		case 7:
			taken = a >= b
		default:
			return h.illegal(ins)
		}
		if taken {
			target := h.pc + immB(ins)
			if target&3 != 0 {
				return &exception{cause: CauseInsnMisaligned, tval: target}
			}
			next = target
		}
	case OP_LOAD:
		addr := h.reg(rs1) + immI(ins)
		var val uint32
		switch f3 {
		case 0: // lb
			val, exc = h.load(addr, 1)
			val = uint32(cpu.SignExtend(uint64(val), 8))
		case 1: // lh
			val, exc = h.load(addr, 2)
			val = uint32(cpu.SignExtend(uint64(val), 16))
		case 2: // lw
			val, exc = h.load(addr, 4)
		case 4: // lbu
			val, exc = h.load(addr, 1)
		case 5: // lhu
			val, exc = h.load(addr, 2)
		default:
			return h.illegal(ins)
		}
		if exc != nil {
			return exc
		}
		h.setReg(rd, val)
	case OP_STORE:
		addr := h.reg(rs1) + immS(ins)
		switch f3 {
		case 0:
			exc = h.store(addr, 1, h.reg(rs2))
		case 1:
			exc = h.store(addr, 2, h.reg(rs2))
		case 2:
			exc = h.store(addr, 4, h.reg(rs2))
		default:
			return h.illegal(ins)
		}
		if exc != nil {
			return exc
		}
	case OP_IMM:
		a, imm := h.reg(rs1), immI(ins)
		shamt := rs2
		var val uint32
		switch f3 {
		case 0:
			val = a + imm
		case 2:
			val = b2u(int32(a) < int32(imm))
		case 3:
			val = b2u(a < imm)
		case 4:
			val = a ^ imm
		case 6:
			val = a | imm
		case 7:
			val = a & imm
		case 1:
			if f7 != 0 {
				return h.illegal(ins)
			}
			val = a << shamt
		case 5:
			switch f7 {
			case 0:
				val = a >> shamt
			case 0x20:
				val = uint32(int32(a) >> shamt)
			default:
				return h.illegal(ins)
			}
		}
		h.setReg(rd, val)
	case OP_REG:
		val, ok := alu(f3, f7, h.reg(rs1), h.reg(rs2))
		if !ok {
			return h.illegal(ins)
		}
		h.setReg(rd, val)
	case OP_FENCE:
		// single hart, memory is always coherent
	case OP_SYSTEM:
		switch ins {
		case INS_ECALL:
			if h.priv == PrivU {
				return &exception{cause: CauseEcallU}
			}
			return &exception{cause: CauseEcallS}
		case INS_EBREAK:
			return &exception{cause: CauseBreakpoint, tval: h.pc}
		}
		// CSR access and sret are not available to U-mode
		return h.illegal(ins)
	default:
		return h.illegal(ins)
	}
	h.pc = next
	return nil
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// alu implements OP (register-register) including the M extension.
func alu(f3, f7, a, b uint32) (uint32, bool) {
	switch f7 {
	case 0:
		switch f3 {
		case 0:
			return a + b, true
		case 1:
			return a << (b & 31), true
		case 2:
			return b2u(int32(a) < int32(b)), true
		case 3:
			return b2u(a < b), true
		case 4:
			return a ^ b, true
		case 5:
			return a >> (b & 31), true
		case 6:
			return a | b, true
		case 7:
			return a & b, true
		}
	case 0x20:
		switch f3 {
		case 0:
			return a - b, true
		case 5:
			return uint32(int32(a) >> (b & 31)), true
		}
	case 1:
		sa, sb := int64(int32(a)), int64(int32(b))
		switch f3 {
		case 0: // mul
			return a * b, true
		case 1: // mulh
			return uint32((sa * sb) >> 32), true
		case 2: // mulhsu
			return uint32((sa * int64(b)) >> 32), true
		case 3: // mulhu
			return uint32((uint64(a) * uint64(b)) >> 32), true
		case 4: // div
			if b == 0 {
				return math.MaxUint32, true
			}
			if int32(a) == math.MinInt32 && int32(b) == -1 {
				return a, true
			}
			return uint32(int32(a) / int32(b)), true
		case 5: // divu
			if b == 0 {
				return math.MaxUint32, true
			}
			return a / b, true
		case 6: // rem
			if b == 0 {
				return a, true
			}
			if int32(a) == math.MinInt32 && int32(b) == -1 {
				return 0, true
			}
			return uint32(int32(a) % int32(b)), true
		case 7: // remu
			if b == 0 {
				return a, true
			}
			return a % b, true
		}
	}
	return 0, false
}
