package rv32

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Instruction encoders. They cover the RV32IM subset the hart executes and
// are enough to build small test and demo programs without a toolchain.

func encR(op, f3, f7, rd, rs1, rs2 uint32) uint32 {
	return f7<<25 | rs2<<20 | rs1<<15 | f3<<12 | rd<<7 | op
}

func encI(op, f3, rd, rs1 uint32, imm int32) uint32 {
	return uint32(imm)&0xfff<<20 | rs1<<15 | f3<<12 | rd<<7 | op
}

func encS(op, f3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>5)&0x7f<<25 | rs2<<20 | rs1<<15 | f3<<12 | u&0x1f<<7 | op
}

func encB(f3, rs1, rs2 uint32, off int32) uint32 {
	u := uint32(off)
	return (u>>12)&1<<31 | (u>>5)&0x3f<<25 | rs2<<20 | rs1<<15 | f3<<12 |
		(u>>1)&0xf<<8 | (u>>11)&1<<7 | OP_BRANCH
}

func encJ(rd uint32, off int32) uint32 {
	u := uint32(off)
	return (u>>20)&1<<31 | (u>>1)&0x3ff<<21 | (u>>11)&1<<20 | (u>>12)&0xff<<12 | rd<<7 | OP_JAL
}

func LUI(rd uint32, imm uint32) uint32   { return imm&0xfffff000 | rd<<7 | OP_LUI }
func AUIPC(rd uint32, imm uint32) uint32 { return imm&0xfffff000 | rd<<7 | OP_AUIPC }

func ADDI(rd, rs1 uint32, imm int32) uint32  { return encI(OP_IMM, 0, rd, rs1, imm) }
func SLTI(rd, rs1 uint32, imm int32) uint32  { return encI(OP_IMM, 2, rd, rs1, imm) }
func SLTIU(rd, rs1 uint32, imm int32) uint32 { return encI(OP_IMM, 3, rd, rs1, imm) }
func XORI(rd, rs1 uint32, imm int32) uint32  { return encI(OP_IMM, 4, rd, rs1, imm) }
func ORI(rd, rs1 uint32, imm int32) uint32   { return encI(OP_IMM, 6, rd, rs1, imm) }
func ANDI(rd, rs1 uint32, imm int32) uint32  { return encI(OP_IMM, 7, rd, rs1, imm) }
func SLLI(rd, rs1, sh uint32) uint32         { return encI(OP_IMM, 1, rd, rs1, int32(sh&31)) }
func SRLI(rd, rs1, sh uint32) uint32         { return encI(OP_IMM, 5, rd, rs1, int32(sh&31)) }
func SRAI(rd, rs1, sh uint32) uint32         { return encI(OP_IMM, 5, rd, rs1, int32(0x400|sh&31)) }

func ADD(rd, rs1, rs2 uint32) uint32  { return encR(OP_REG, 0, 0, rd, rs1, rs2) }
func SUB(rd, rs1, rs2 uint32) uint32  { return encR(OP_REG, 0, 0x20, rd, rs1, rs2) }
func SLL(rd, rs1, rs2 uint32) uint32  { return encR(OP_REG, 1, 0, rd, rs1, rs2) }
func SLT(rd, rs1, rs2 uint32) uint32  { return encR(OP_REG, 2, 0, rd, rs1, rs2) }
func SLTU(rd, rs1, rs2 uint32) uint32 { return encR(OP_REG, 3, 0, rd, rs1, rs2) }
func XOR(rd, rs1, rs2 uint32) uint32  { return encR(OP_REG, 4, 0, rd, rs1, rs2) }
func SRL(rd, rs1, rs2 uint32) uint32  { return encR(OP_REG, 5, 0, rd, rs1, rs2) }
func SRA(rd, rs1, rs2 uint32) uint32  { return encR(OP_REG, 5, 0x20, rd, rs1, rs2) }
func OR(rd, rs1, rs2 uint32) uint32   { return encR(OP_REG, 6, 0, rd, rs1, rs2) }
func AND(rd, rs1, rs2 uint32) uint32  { return encR(OP_REG, 7, 0, rd, rs1, rs2) }
func MUL(rd, rs1, rs2 uint32) uint32  { return encR(OP_REG, 0, 1, rd, rs1, rs2) }
func DIV(rd, rs1, rs2 uint32) uint32  { return encR(OP_REG, 4, 1, rd, rs1, rs2) }
func DIVU(rd, rs1, rs2 uint32) uint32 { return encR(OP_REG, 5, 1, rd, rs1, rs2) }
func REM(rd, rs1, rs2 uint32) uint32  { return encR(OP_REG, 6, 1, rd, rs1, rs2) }

func LB(rd, rs1 uint32, off int32) uint32  { return encI(OP_LOAD, 0, rd, rs1, off) }
func LH(rd, rs1 uint32, off int32) uint32  { return encI(OP_LOAD, 1, rd, rs1, off) }
func LW(rd, rs1 uint32, off int32) uint32  { return encI(OP_LOAD, 2, rd, rs1, off) }
func LBU(rd, rs1 uint32, off int32) uint32 { return encI(OP_LOAD, 4, rd, rs1, off) }
func LHU(rd, rs1 uint32, off int32) uint32 { return encI(OP_LOAD, 5, rd, rs1, off) }

func SB(rs2, rs1 uint32, off int32) uint32 { return encS(OP_STORE, 0, rs1, rs2, off) }
func SH(rs2, rs1 uint32, off int32) uint32 { return encS(OP_STORE, 1, rs1, rs2, off) }
func SW(rs2, rs1 uint32, off int32) uint32 { return encS(OP_STORE, 2, rs1, rs2, off) }

func BEQ(rs1, rs2 uint32, off int32) uint32  { return encB(0, rs1, rs2, off) }
func BNE(rs1, rs2 uint32, off int32) uint32  { return encB(1, rs1, rs2, off) }
func BLT(rs1, rs2 uint32, off int32) uint32  { return encB(4, rs1, rs2, off) }
func BGE(rs1, rs2 uint32, off int32) uint32  { return encB(5, rs1, rs2, off) }
func BLTU(rs1, rs2 uint32, off int32) uint32 { return encB(6, rs1, rs2, off) }
func BGEU(rs1, rs2 uint32, off int32) uint32 { return encB(7, rs1, rs2, off) }

func JAL(rd uint32, off int32) uint32          { return encJ(rd, off) }
func JALR(rd, rs1 uint32, off int32) uint32    { return encI(OP_JALR, 0, rd, rs1, off) }
func ECALL() uint32                            { return INS_ECALL }
func EBREAK() uint32                           { return INS_EBREAK }
func NOP() uint32                              { return ADDI(ZERO, ZERO, 0) }
func CSRRW(rd, csr, rs1 uint32) uint32         { return encI(OP_SYSTEM, 1, rd, rs1, int32(csr)) }

// LI loads a 32-bit constant with lui+addi, compensating for the sign of
// the low twelve bits.
func LI(rd uint32, val uint32) []uint32 {
	lo := int32(val<<20) >> 20
	hi := val - uint32(lo)
	if hi == 0 {
		return []uint32{ADDI(rd, ZERO, lo)}
	}
	return []uint32{LUI(rd, hi), ADDI(rd, rd, lo)}
}

// Program accumulates instructions and patches forward branches to labels.
type Program struct {
	words  []uint32
	labels map[string]int
	fixups []fixup
}

type fixup struct {
	at    int
	label string
	enc   func(off int32) uint32
}

func NewProgram() *Program {
	return &Program{labels: make(map[string]int)}
}

// Emit appends instructions.
func (p *Program) Emit(ins ...uint32) *Program {
	p.words = append(p.words, ins...)
	return p
}

// Label marks the current position.
func (p *Program) Label(name string) *Program {
	p.labels[name] = len(p.words)
	return p
}

// Ref emits an instruction whose pc-relative offset is resolved against
// label at Bytes time, e.g. p.Ref("loop", func(off int32) uint32 { return BNE(A0, ZERO, off) }).
func (p *Program) Ref(label string, enc func(off int32) uint32) *Program {
	p.fixups = append(p.fixups, fixup{at: len(p.words), label: label, enc: enc})
	p.words = append(p.words, 0)
	return p
}

// Data appends raw bytes padded to a word boundary and returns their offset.
func (p *Program) Data(b []byte) int {
	off := len(p.words) * 4
	for i := 0; i < len(b); i += 4 {
		var w [4]byte
		copy(w[:], b[i:])
		p.words = append(p.words, binary.LittleEndian.Uint32(w[:]))
	}
	return off
}

// Here is the byte offset of the next instruction.
func (p *Program) Here() int { return len(p.words) * 4 }

// Bytes resolves labels and returns the little-endian image.
func (p *Program) Bytes() ([]byte, error) {
	for _, f := range p.fixups {
		target, ok := p.labels[f.label]
		if !ok {
			return nil, errors.Errorf("undefined label %q", f.label)
		}
		p.words[f.at] = f.enc(int32(target-f.at) * 4)
	}
	out := make([]byte, len(p.words)*4)
	for i, w := range p.words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out, nil
}
