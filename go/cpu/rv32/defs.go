package rv32

// integer registers, ABI names
const (
	ZERO = iota
	RA
	SP
	GP
	TP
	T0
	T1
	T2
	S0
	S1
	A0
	A1
	A2
	A3
	A4
	A5
	A6
	A7
	S2
	S3
	S4
	S5
	S6
	S7
	S8
	S9
	S10
	S11
	T3
	T4
	T5
	T6
)

var RegNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// supervisor CSRs
const (
	SSTATUS  = 0x100
	STVEC    = 0x105
	SSCRATCH = 0x140
	SEPC     = 0x141
	SCAUSE   = 0x142
	STVAL    = 0x143
	SATP     = 0x180
)

// sstatus bits
const (
	SSTATUS_SIE  = 1 << 1
	SSTATUS_SPIE = 1 << 5
	SSTATUS_SPP  = 1 << 8
)

// satp
const (
	SATP_SV32     = 1 << 31
	SATP_PPN_MASK = 0x3fffff
)

// page table entry bits
const (
	PTE_V = 1 << 0
	PTE_R = 1 << 1
	PTE_W = 1 << 2
	PTE_X = 1 << 3
	PTE_U = 1 << 4
	PTE_G = 1 << 5
	PTE_A = 1 << 6
	PTE_D = 1 << 7
)

const PageSize = 4096

// scause exception codes
const (
	CauseInsnMisaligned  = 0
	CauseInsnAccess      = 1
	CauseIllegal         = 2
	CauseBreakpoint      = 3
	CauseLoadAccess      = 5
	CauseStoreAccess     = 7
	CauseEcallU          = 8
	CauseEcallS          = 9
	CauseInsnPageFault   = 12
	CauseLoadPageFault   = 13
	CauseStorePageFault  = 15
	CauseInterruptBit    = 1 << 31
	instructionSizeBytes = 4
)

// privilege levels
const (
	PrivU = 0
	PrivS = 1
)

// opcodes
const (
	OP_LOAD   = 0x03
	OP_FENCE  = 0x0f
	OP_IMM    = 0x13
	OP_AUIPC  = 0x17
	OP_STORE  = 0x23
	OP_REG    = 0x33
	OP_LUI    = 0x37
	OP_BRANCH = 0x63
	OP_JALR   = 0x67
	OP_JAL    = 0x6f
	OP_SYSTEM = 0x73
)

const (
	INS_ECALL  = 0x00000073
	INS_EBREAK = 0x00100073
)

var causeNames = map[uint32]string{
	CauseInsnMisaligned: "instruction address misaligned",
	CauseInsnAccess:     "instruction access fault",
	CauseIllegal:        "illegal instruction",
	CauseBreakpoint:     "breakpoint",
	CauseLoadAccess:     "load access fault",
	CauseStoreAccess:    "store access fault",
	CauseEcallU:         "environment call from U-mode",
	CauseEcallS:         "environment call from S-mode",
	CauseInsnPageFault:  "instruction page fault",
	CauseLoadPageFault:  "load page fault",
	CauseStorePageFault: "store page fault",
}

// CauseName describes an scause value.
func CauseName(cause uint32) string {
	if name, ok := causeNames[cause]; ok {
		return name
	}
	return "unknown"
}
