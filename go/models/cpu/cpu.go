package cpu

import "github.com/pkg/errors"

// ErrStopped is returned by Cpu.Run when the stop callback asked it to return
// before a trap was taken.
var ErrStopped = errors.New("cpu stopped")

// This interface abstracts the hart as the kernel's trap path sees it.
type Cpu interface {
	// register IO
	RegRead(reg int) (uint64, error)
	RegWrite(reg int, val uint64) error
	CsrRead(csr int) uint64
	CsrWrite(csr int, val uint64)

	// execution: Run executes lower-privilege code until a trap is taken,
	// leaving the hart in trap-handling state with the cause CSRs latched.
	Run(stop func() bool) error
	// EnterUser sets the return pc and drops to user mode (sepc + sret).
	EnterUser(pc uint64)
	// Sret returns from trap handling to sepc.
	Sret()
	InTrap() bool

	// save/restore register state
	ContextSave(reuse interface{}) (interface{}, error)
	ContextRestore(ctx interface{}) error
}
