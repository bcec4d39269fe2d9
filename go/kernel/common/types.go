package common

import (
	"github.com/pkg/errors"
)

type (
	// Buf is a user pointer the handler reads from.
	Buf struct {
		Addr uint32
		K    *KernelBase
	}
	// Obuf is a user pointer the handler writes to.
	Obuf struct{ Buf }
	Len  uint32
	// Char is a character argument, the low byte of its register.
	Char byte
)

func NewBuf(k Kernel, addr uint32) Buf {
	return Buf{K: k.SyscallKernel(), Addr: addr}
}

// Read copies len(p) bytes from the user buffer.
func (b Buf) Read(p []byte) error {
	if b.K.Mem == nil {
		return errors.New("no address space for user buffer")
	}
	return b.K.Mem.CopyIn(b.Addr, p)
}

// Write copies p into the user buffer.
func (b Obuf) Write(p []byte) error {
	if b.K.Mem == nil {
		return errors.New("no address space for user buffer")
	}
	return b.K.Mem.CopyOut(b.Addr, p)
}
