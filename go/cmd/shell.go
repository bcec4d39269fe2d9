package cmd

import (
	"github.com/tinyrv/rvkern/go/cpu/rv32"
	"github.com/tinyrv/rvkern/go/kernel"
)

// DemoShell assembles the builtin shell, linked to run at base. It reads a
// line, echoing as it goes, and understands hello, readfile, writefile and
// exit.
func DemoShell(base uint32) ([]byte, error) {
	p := rv32.NewProgram()
	li := func(rd, v uint32) { p.Emit(rv32.LI(rd, v)...) }
	sys := func(num int32) { p.Emit(rv32.ADDI(rv32.A3, rv32.ZERO, num), rv32.ECALL()) }
	call := func(label string) {
		p.Ref(label, func(off int32) uint32 { return rv32.JAL(rv32.RA, off) })
	}
	jump := func(label string) {
		p.Ref(label, func(off int32) uint32 { return rv32.JAL(rv32.ZERO, off) })
	}
	beq := func(rs1, rs2 uint32, label string) {
		p.Ref(label, func(off int32) uint32 { return rv32.BEQ(rs1, rs2, off) })
	}
	bne := func(rs1, rs2 uint32, label string) {
		p.Ref(label, func(off int32) uint32 { return rv32.BNE(rs1, rs2, off) })
	}
	str := func(s string) uint32 {
		return base + uint32(p.Data(append([]byte(s), 0)))
	}

	jump("main")
	prompt := str("-> ")
	tooLong := str("\n\nhold up youngster, you're yapping too much\n\n")
	unknown := str("unrecognized command: ")
	helloMsg := str("hey!\n")
	readErr := str("readfile: no such file\n")
	fileName := str("hello.txt")
	const writeText = "Hello from shell!\n"
	writeMsg := str(writeText)
	commands := map[string]uint32{}
	for _, name := range []string{"hello", "exit", "readfile", "writefile"} {
		commands[name] = str(name)
	}
	const lineMax = 128
	line := base + uint32(p.Data(make([]byte, lineMax)))
	fileBuf := base + uint32(p.Data(make([]byte, lineMax+4)))

	// puts(a0)
	p.Label("puts")
	p.Emit(rv32.ADDI(rv32.T0, rv32.A0, 0))
	p.Label("puts.loop")
	p.Emit(rv32.LBU(rv32.A0, rv32.T0, 0))
	beq(rv32.A0, rv32.ZERO, "puts.done")
	sys(kernel.SYS_CHAR_OUT)
	p.Emit(rv32.ADDI(rv32.T0, rv32.T0, 1))
	jump("puts.loop")
	p.Label("puts.done")
	p.Emit(rv32.JALR(rv32.ZERO, rv32.RA, 0))

	// streq(a0, a1) sets a0 to 1 when the strings match
	p.Label("streq")
	p.Emit(rv32.LBU(rv32.T0, rv32.A0, 0), rv32.LBU(rv32.T1, rv32.A1, 0))
	bne(rv32.T0, rv32.T1, "streq.ne")
	beq(rv32.T0, rv32.ZERO, "streq.eq")
	p.Emit(rv32.ADDI(rv32.A0, rv32.A0, 1), rv32.ADDI(rv32.A1, rv32.A1, 1))
	jump("streq")
	p.Label("streq.eq")
	p.Emit(rv32.ADDI(rv32.A0, rv32.ZERO, 1), rv32.JALR(rv32.ZERO, rv32.RA, 0))
	p.Label("streq.ne")
	p.Emit(rv32.ADDI(rv32.A0, rv32.ZERO, 0), rv32.JALR(rv32.ZERO, rv32.RA, 0))

	p.Label("main")
	li(rv32.A0, prompt)
	call("puts")
	li(rv32.S0, line)
	li(rv32.S1, 0)
	p.Label("read")
	sys(kernel.SYS_CHAR_IN)
	li(rv32.T0, '\r')
	beq(rv32.A0, rv32.T0, "eol")
	li(rv32.T0, '\n')
	beq(rv32.A0, rv32.T0, "eol")
	// echo; char_out leaves a0 alone
	sys(kernel.SYS_CHAR_OUT)
	li(rv32.T0, lineMax-1)
	beq(rv32.S1, rv32.T0, "toolong")
	p.Emit(
		rv32.ADD(rv32.T1, rv32.S0, rv32.S1),
		rv32.SB(rv32.A0, rv32.T1, 0),
		rv32.ADDI(rv32.S1, rv32.S1, 1),
	)
	jump("read")

	p.Label("toolong")
	li(rv32.A0, tooLong)
	call("puts")
	jump("main")

	p.Label("eol")
	li(rv32.A0, '\n')
	sys(kernel.SYS_CHAR_OUT)
	p.Emit(rv32.ADD(rv32.T1, rv32.S0, rv32.S1), rv32.SB(rv32.ZERO, rv32.T1, 0))
	for _, name := range []string{"hello", "exit", "readfile", "writefile"} {
		li(rv32.A0, line)
		li(rv32.A1, commands[name])
		call("streq")
		bne(rv32.A0, rv32.ZERO, "cmd."+name)
	}
	li(rv32.A0, unknown)
	call("puts")
	li(rv32.A0, line)
	call("puts")
	li(rv32.A0, '\n')
	sys(kernel.SYS_CHAR_OUT)
	jump("main")

	p.Label("cmd.hello")
	li(rv32.A0, helloMsg)
	call("puts")
	jump("main")

	p.Label("cmd.exit")
	li(rv32.A0, 0)
	sys(kernel.SYS_EXIT)

	p.Label("cmd.readfile")
	li(rv32.A0, fileName)
	li(rv32.A1, fileBuf)
	li(rv32.A2, lineMax)
	sys(kernel.SYS_FILE_READ)
	p.Ref("readfile.err", func(off int32) uint32 { return rv32.BLT(rv32.A0, rv32.ZERO, off) })
	li(rv32.T0, fileBuf)
	p.Emit(rv32.ADD(rv32.T0, rv32.T0, rv32.A0), rv32.SB(rv32.ZERO, rv32.T0, 0))
	li(rv32.A0, fileBuf)
	call("puts")
	li(rv32.A0, '\n')
	sys(kernel.SYS_CHAR_OUT)
	jump("main")
	p.Label("readfile.err")
	li(rv32.A0, readErr)
	call("puts")
	jump("main")

	p.Label("cmd.writefile")
	li(rv32.A0, fileName)
	li(rv32.A1, writeMsg)
	li(rv32.A2, uint32(len(writeText)))
	sys(kernel.SYS_FILE_WRITE)
	jump("main")

	return p.Bytes()
}
