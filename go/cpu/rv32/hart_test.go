package rv32

import (
	"encoding/binary"
	"testing"

	"github.com/tinyrv/rvkern/go/models/cpu"
)

const ramBase = 0x80000000

func newTestHart(t *testing.T, prog *Program) *Hart {
	bus := cpu.NewBus(32, binary.LittleEndian, ramBase, 0x100000)
	code, err := prog.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if err := bus.MemWrite(ramBase, code); err != nil {
		t.Fatal(err)
	}
	h := New(bus)
	h.EnterUser(ramBase)
	return h
}

func runToTrap(t *testing.T, h *Hart) uint32 {
	if err := h.Run(nil); err != nil {
		t.Fatal(err)
	}
	if !h.InTrap() {
		t.Fatal("Run returned without a trap")
	}
	return uint32(h.CsrRead(SCAUSE))
}

func TestLoopAndEcall(t *testing.T) {
	// a0 = 1 + 2 + ... + 10
	p := NewProgram().
		Emit(ADDI(A0, ZERO, 0), ADDI(T0, ZERO, 10)).
		Label("loop").
		Emit(ADD(A0, A0, T0), ADDI(T0, T0, -1)).
		Ref("loop", func(off int32) uint32 { return BNE(T0, ZERO, off) }).
		Label("ecall").
		Emit(ECALL())
	h := newTestHart(t, p)
	if cause := runToTrap(t, h); cause != CauseEcallU {
		t.Fatalf("scause = %d, want %d", cause, CauseEcallU)
	}
	if v, _ := h.RegRead(A0); v != 55 {
		t.Fatalf("a0 = %d, want 55", v)
	}
	if sepc := h.CsrRead(SEPC); sepc != ramBase+5*4 {
		t.Fatalf("sepc = %#x, want the ecall at %#x", sepc, ramBase+5*4)
	}
	if h.CsrRead(SSTATUS)&SSTATUS_SPP != 0 {
		t.Fatal("SPP set for a trap from user mode")
	}
	// resume past the ecall
	h.CsrWrite(SEPC, h.CsrRead(SEPC)+4)
	h.Sret()
	if h.Priv() != PrivU || h.PC() != ramBase+6*4 {
		t.Fatalf("sret landed at %#x priv %d", h.PC(), h.Priv())
	}
}

func TestLoadStore(t *testing.T) {
	p := NewProgram()
	p.Emit(LI(T0, ramBase+0x800)...)
	p.Emit(LI(T1, 0xfffff080)...)
	p.Emit(
		SW(T1, T0, 0),
		LB(A0, T0, 0),
		LBU(A1, T0, 0),
		LH(A2, T0, 2),
		LW(A3, T0, 0),
		SB(ZERO, T0, 1),
		LW(A4, T0, 0),
		ECALL(),
	)
	h := newTestHart(t, p)
	runToTrap(t, h)
	want := map[int]uint64{
		A0: 0xffffff80,
		A1: 0x80,
		A2: 0xffffffff,
		A3: 0xfffff080,
		A4: 0xffff0080,
	}
	for reg, val := range want {
		if got, _ := h.RegRead(reg); got != val {
			t.Errorf("%s = %#x, want %#x", RegNames[reg], got, val)
		}
	}
}

func TestMulDiv(t *testing.T) {
	p := NewProgram().Emit(
		ADDI(T0, ZERO, -7),
		ADDI(T1, ZERO, 2),
		MUL(A0, T0, T1),
		DIV(A1, T0, T1),
		REM(A2, T0, T1),
		DIVU(A3, T1, ZERO),
		SRAI(A4, T0, 1),
		ECALL(),
	)
	h := newTestHart(t, p)
	runToTrap(t, h)
	want := map[int]uint32{A0: 0xfffffff2, A1: 0xfffffffd, A2: 0xffffffff, A3: 0xffffffff, A4: 0xfffffffc}
	for reg, val := range want {
		if got, _ := h.RegRead(reg); uint32(got) != val {
			t.Errorf("%s = %#x, want %#x", RegNames[reg], got, val)
		}
	}
}

func TestIllegal(t *testing.T) {
	bad := CSRRW(A0, SATP, A1)
	h := newTestHart(t, NewProgram().Emit(NOP(), bad))
	if cause := runToTrap(t, h); cause != CauseIllegal {
		t.Fatalf("scause = %d, want illegal", cause)
	}
	if tval := uint32(h.CsrRead(STVAL)); tval != bad {
		t.Fatalf("stval = %#x, want the instruction %#x", tval, bad)
	}
	if sepc := h.CsrRead(SEPC); sepc != ramBase+4 {
		t.Fatalf("sepc = %#x", sepc)
	}
}

func TestSv32Translation(t *testing.T) {
	const (
		root  = ramBase + 0x10000
		leaf  = ramBase + 0x11000
		code  = ramBase
		va    = 0x00400000
		data  = ramBase + 0x20000
		dataV = va + PageSize
	)
	p := NewProgram()
	p.Emit(LI(T0, dataV)...)
	p.Emit(LW(A0, T0, 0), SW(A0, T0, 4))
	p.Emit(LI(T0, 0x00800000)...)
	p.Emit(LW(A1, T0, 0))
	h := newTestHart(t, p)
	bus := h.Bus()
	pte := func(pa uint32, flags uint32) uint64 { return uint64(pa/PageSize<<10 | flags) }
	bus.WriteUint(root+uint64(va>>22)*4, 4, pte(leaf, PTE_V))
	bus.WriteUint(leaf+uint64((va>>12)&0x3ff)*4, 4, pte(code, PTE_V|PTE_R|PTE_X|PTE_U))
	bus.WriteUint(leaf+uint64((dataV>>12)&0x3ff)*4, 4, pte(data, PTE_V|PTE_R|PTE_W|PTE_U))
	bus.WriteUint(data, 4, 0x1234)

	h.CsrWrite(SATP, SATP_SV32|root/PageSize)
	h.EnterUser(va)
	if cause := runToTrap(t, h); cause != CauseLoadPageFault {
		t.Fatalf("scause = %d (%s), want load page fault", cause, CauseName(cause))
	}
	if tval := h.CsrRead(STVAL); tval != 0x00800000 {
		t.Fatalf("stval = %#x", tval)
	}
	if v, _ := h.RegRead(A0); v != 0x1234 {
		t.Fatalf("a0 = %#x, translated load failed", v)
	}
	if v, _ := bus.ReadUint(data+4, 4, cpu.MEM_READ); v != 0x1234 {
		t.Fatalf("translated store wrote %#x", v)
	}
	if v, _ := bus.ReadUint(leaf+uint64((dataV>>12)&0x3ff)*4, 4, cpu.MEM_READ); v&(PTE_A|PTE_D) != PTE_A|PTE_D {
		t.Fatalf("A/D bits not set: %#x", v)
	}
}

func TestUserBitRequired(t *testing.T) {
	const (
		root = ramBase + 0x10000
		leaf = ramBase + 0x11000
		va   = 0x00400000
	)
	h := newTestHart(t, NewProgram().Emit(NOP()))
	bus := h.Bus()
	bus.WriteUint(root+uint64(va>>22)*4, 4, uint64(leaf/PageSize<<10|PTE_V))
	bus.WriteUint(leaf, 4, uint64(ramBase/PageSize<<10|PTE_V|PTE_R|PTE_X))
	h.CsrWrite(SATP, SATP_SV32|root/PageSize)
	h.EnterUser(va)
	if cause := runToTrap(t, h); cause != CauseInsnPageFault {
		t.Fatalf("scause = %d, want instruction page fault", cause)
	}
}

func TestStop(t *testing.T) {
	p := NewProgram().Label("spin").Ref("spin", func(off int32) uint32 { return JAL(ZERO, off) })
	h := newTestHart(t, p)
	calls := 0
	err := h.Run(func() bool {
		calls++
		return calls == 3
	})
	if err != cpu.ErrStopped {
		t.Fatalf("Run returned %v", err)
	}
	if h.InTrap() {
		t.Fatal("stopped hart claims to be in a trap")
	}
}
