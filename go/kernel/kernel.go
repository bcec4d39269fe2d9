// Package kernel ties the supervisor together: it owns every piece of
// kernel state, boots the board, runs the idle loop and serves system calls
// from user processes.
package kernel

import (
	"context"
	"log/slog"
	"os"
	"runtime"

	"github.com/pkg/errors"

	"github.com/tinyrv/rvkern/go/cpu/rv32"
	"github.com/tinyrv/rvkern/go/kernel/ctxsw"
	"github.com/tinyrv/rvkern/go/kernel/halt"
	"github.com/tinyrv/rvkern/go/kernel/palloc"
	"github.com/tinyrv/rvkern/go/kernel/proc"
	"github.com/tinyrv/rvkern/go/kernel/sv32"
	"github.com/tinyrv/rvkern/go/kernel/trap"
	"github.com/tinyrv/rvkern/go/machine"
	"github.com/tinyrv/rvkern/go/models"
	"github.com/tinyrv/rvkern/go/models/cpu"
	"github.com/tinyrv/rvkern/go/models/trace"
	"github.com/tinyrv/rvkern/go/tarfs"
	"github.com/tinyrv/rvkern/go/virtio"
)

// Kernel is the kernel state arena. One hart runs one context at a time, so
// none of it is locked.
type Kernel struct {
	cfg   *models.Config
	board *machine.Board
	log   *slog.Logger

	alloc  *palloc.Allocator
	mapper *sv32.Mapper
	sw     *ctxsw.Switcher
	halt   *halt.Halter
	trap   *trap.Dispatcher
	procs  *proc.Table
	blk    *virtio.Blk
	fs     *tarfs.FS
	sys    *Syscalls
	trace  *trace.TraceWriter

	booted   bool
	ctx      context.Context
	idleDone chan struct{}
}

func New(cfg *models.Config, board *machine.Board) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid layout")
	}
	l := cfg.Layout
	log := cfg.Logger()
	k := &Kernel{
		cfg:      cfg,
		board:    board,
		log:      log,
		sw:       ctxsw.NewSwitcher(),
		halt:     halt.New(log, cfg.Output, cfg.Color),
		idleDone: make(chan struct{}),
	}
	k.alloc = palloc.New(board.Bus, l.FreeRAM, l.FreeRAMEnd)
	k.mapper = sv32.New(board.Bus, k.alloc)
	k.procs = proc.NewTable(cfg, board.Bus, k.alloc, k.mapper, board.Hart, k.sw)
	k.procs.Entry = k.userEntry
	k.blk = virtio.NewBlk(board.Bus, l.VirtioBase, k.alloc, cfg.QueueSize, cfg.IOTimeout, log.With("dev", "virtio-blk"))
	k.fs = tarfs.New(k.blk, log.With("subsys", "fs"))

	k.trap = trap.NewDispatcher(board.Hart, k.halt, log, cfg.Color)
	k.trap.Syscall = k.syscall
	k.sys = newSyscalls(k)

	if cfg.TraceFile != "" {
		f, err := os.Create(cfg.TraceFile)
		if err != nil {
			return nil, errors.Wrap(err, "creating trace file")
		}
		if k.trace, err = trace.NewWriter(f, l); err != nil {
			f.Close()
			return nil, err
		}
		k.trap.OnTrap = k.traceTrap
	}
	return k, nil
}

// Procs is the process table.
func (k *Kernel) Procs() *proc.Table { return k.procs }

// FS is the file store.
func (k *Kernel) FS() *tarfs.FS { return k.fs }

// Halter is the kernel's fatal error path.
func (k *Kernel) Halter() *halt.Halter { return k.halt }

// fatal records an unrecoverable boot error and returns it.
func (k *Kernel) fatal(format string, args ...interface{}) error {
	k.halt.Stop(format, args...)
	return k.halt.Err()
}

// Boot brings up the disk and file system and installs the idle process.
// Any failure here is fatal.
func (k *Kernel) Boot() error {
	if k.booted {
		return errors.New("kernel already booted")
	}
	if err := k.blk.Init(); err != nil {
		return k.fatal("virtio: %v", err)
	}
	if k.blk.Capacity() < tarfs.DiskSize {
		return k.fatal("virtio: disk holds %d bytes, file system needs %d", k.blk.Capacity(), tarfs.DiskSize)
	}
	if err := k.fs.Load(); err != nil {
		return k.fatal("failed to load file system: %v", err)
	}
	if _, err := k.procs.CreateIdle(); err != nil {
		return k.fatal("idle process: %v", err)
	}
	k.booted = true
	return nil
}

// Spawn creates a process running image from the user base. It must be
// called before Run. Running out of slots or memory is fatal.
func (k *Kernel) Spawn(image []byte) (*proc.PCB, error) {
	if !k.booted {
		return nil, errors.New("spawn before boot")
	}
	p, err := k.procs.Create(image)
	if err != nil {
		return nil, k.fatal("create process: %v", err)
	}
	return p, nil
}

// Run hands the hart to the scheduler and waits. It returns nil once every
// process has exited, the context's error on cancellation, or the
// *halt.FatalError that stopped the system.
func (k *Kernel) Run(ctx context.Context) error {
	if err := k.halt.Err(); err != nil {
		return err
	}
	if !k.booted {
		return errors.New("run before boot")
	}
	k.ctx = ctx
	go k.idle()
	select {
	case <-k.idleDone:
	case <-k.halt.Halted():
	case <-ctx.Done():
	}
	k.sw.Halt()
	<-k.idleDone
	k.sw.Wait()

	var err error
	if ferr := k.halt.Err(); ferr != nil {
		err = ferr
	} else if ctx.Err() != nil {
		err = ctx.Err()
	}
	if k.trace != nil {
		if cerr := k.trace.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "closing trace")
		}
		k.trace = nil
	}
	return err
}

// stopping reports whether the running context should wind down.
func (k *Kernel) stopping() bool {
	select {
	case <-k.ctx.Done():
		return true
	case <-k.halt.Halted():
		return true
	default:
		return false
	}
}

// idle runs on the idle process. It only gets the hart back when nothing
// else is runnable.
func (k *Kernel) idle() {
	defer close(k.idleDone)
	for !k.stopping() && k.procs.Runnable() > 0 {
		k.procs.Yield()
	}
	k.log.Debug("idle: no runnable processes")
}

// userEntry is where a new process starts. It drops to U-mode at the user
// base with clean registers, then runs the hart and the trap path
// alternately for the life of the process.
func (k *Kernel) userEntry(p *proc.PCB) {
	h := k.board.Hart
	for r := 1; r < 32; r++ {
		h.Set(r, 0)
	}
	k.log.Debug("entering user mode", "pid", p.PID)
	h.EnterUser(uint64(k.cfg.Layout.UserBase))
	for {
		if err := h.Run(k.stopping); err != nil {
			if err == cpu.ErrStopped {
				runtime.Goexit()
			}
			k.halt.Fatalf("hart: %v", err)
		}
		k.trap.Entry()
	}
}

func (k *Kernel) traceTrap(f *trap.Frame, info trap.Info) {
	rec := &trace.Record{
		PID:   uint32(k.procs.Current().PID),
		Cause: info.Cause,
		Tval:  info.Tval,
		Epc:   info.Epc,
	}
	if info.Cause == rv32.CauseEcallU {
		rec.Sysno = f.A3
	}
	if err := k.trace.Pack(rec); err != nil {
		k.log.Warn("trace write failed, tracing disabled", "err", err)
		k.trap.OnTrap = nil
	}
}
