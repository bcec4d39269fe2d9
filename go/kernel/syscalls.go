package kernel

import (
	"runtime"
	"time"

	"github.com/pkg/errors"

	"github.com/tinyrv/rvkern/go/kernel/common"
	"github.com/tinyrv/rvkern/go/kernel/sv32"
	"github.com/tinyrv/rvkern/go/kernel/trap"
	"github.com/tinyrv/rvkern/go/tarfs"
)

// System call numbers, passed in a3.
const (
	SYS_CHAR_OUT   = 1
	SYS_CHAR_IN    = 2
	SYS_EXIT       = 3
	SYS_FILE_READ  = 4
	SYS_FILE_WRITE = 5
	SYS_YIELD      = 6
)

var syscallNames = map[uint32]string{
	SYS_CHAR_OUT:   "char_out",
	SYS_CHAR_IN:    "char_in",
	SYS_EXIT:       "exit",
	SYS_FILE_READ:  "file_read",
	SYS_FILE_WRITE: "file_write",
	SYS_YIELD:      "yield",
}

// SyscallNames maps each system call number to its name.
func SyscallNames() map[uint32]string {
	names := make(map[uint32]string, len(syscallNames))
	for num, name := range syscallNames {
		names[num] = name
	}
	return names
}

// userMem is the address space of one process.
type userMem struct {
	m    *sv32.Mapper
	root uint32
}

func (u userMem) CopyIn(va uint32, p []byte) error  { return u.m.CopyIn(u.root, va, p) }
func (u userMem) CopyOut(va uint32, p []byte) error { return u.m.CopyOut(u.root, va, p) }
func (u userMem) CopyInString(va uint32, max int) (string, error) {
	return u.m.CopyInString(u.root, va, max)
}

// Syscalls holds the handlers. Every exported method is a system call,
// registered under its snake case name.
type Syscalls struct {
	common.KernelBase
	k *Kernel
}

func newSyscalls(k *Kernel) *Syscalls {
	s := &Syscalls{k: k}
	common.Init(s)
	for num, name := range syscallNames {
		if err := s.Bind(num, name); err != nil {
			panic(err)
		}
	}
	return s
}

// syscall serves an ecall. The number is in a3, arguments in a0..a2, and
// a handler's result replaces a0. Handlers without a result leave a0 alone.
func (k *Kernel) syscall(f *trap.Frame) {
	sys := k.sys.Lookup(f.A3)
	if sys == nil {
		k.halt.Fatalf("unexpected syscall a3=%x", f.A3)
	}
	p := k.procs.Current()
	k.sys.Mem = userMem{m: k.mapper, root: p.Root}
	args := []uint64{uint64(f.A0), uint64(f.A1), uint64(f.A2)}
	if k.cfg.Verbose {
		k.log.Debug("syscall", "pid", p.PID, "call", sys.Trace(args))
	}
	ret, err := sys.Call(args)
	if err != nil {
		// an argument pointed outside the caller's address space
		k.log.Warn("bad syscall argument", "pid", p.PID, "call", sys.Name, "err", err)
		errno := common.ErrnoFault
		f.A0 = uint32(errno)
		return
	}
	if len(sys.Out) > 0 {
		f.A0 = uint32(ret)
	}
}

// wait gives up the hart while a process waits for input, sleeping when no
// other process can use it.
func (k *Kernel) wait() {
	if k.stopping() {
		runtime.Goexit()
	}
	if !k.procs.Yield() {
		time.Sleep(k.cfg.IdlePoll)
	}
}

func (s *Syscalls) CharOut(c common.Char) {
	s.k.board.SBI.PutChar(byte(c))
}

// CharIn blocks the caller until a character arrives.
func (s *Syscalls) CharIn() int32 {
	for {
		if c := s.k.board.SBI.GetChar(); c >= 0 {
			return c
		}
		s.k.wait()
	}
}

func (s *Syscalls) Exit(code int32) {
	p := s.k.procs.Current()
	s.k.trap.Forget(p.Satp())
	s.k.procs.Exit(int(code))
}

// FileRead copies up to n bytes of the named file to buf and returns the
// count, or -1 when the file is missing or buf is not writable.
func (s *Syscalls) FileRead(name string, buf common.Obuf, n common.Len) int32 {
	f := s.k.fs.Lookup(name)
	if f == nil {
		s.k.log.Warn("file not found", "file", name)
		return common.ErrnoFault
	}
	data := f.Bytes()
	if int(n) < len(data) {
		data = data[:n]
	}
	if err := buf.Write(data); err != nil {
		s.k.log.Warn("file_read: bad buffer", "file", name, "err", err)
		return common.ErrnoFault
	}
	return int32(len(data))
}

// FileWrite replaces the named file with n bytes from buf, creating it if
// needed, and flushes the file system to disk.
func (s *Syscalls) FileWrite(name string, buf common.Buf, n common.Len) int32 {
	if n > tarfs.FileDataMax {
		s.k.log.Warn("file_write: too large", "file", name, "size", uint32(n))
		return common.ErrnoFault
	}
	data := make([]byte, n)
	if err := buf.Read(data); err != nil {
		s.k.log.Warn("file_write: bad buffer", "file", name, "err", err)
		return common.ErrnoFault
	}
	if _, err := s.k.fs.Write(name, data); err != nil {
		if errors.Cause(err) == tarfs.ErrFull || errors.Cause(err) == tarfs.ErrBadName {
			s.k.log.Warn("file_write failed", "file", name, "err", err)
		} else {
			s.k.log.Error("file_write failed", "file", name, "err", err)
		}
		return common.ErrnoFault
	}
	return int32(n)
}

func (s *Syscalls) Yield() int32 {
	s.k.procs.Yield()
	return common.ErrnoOK
}
