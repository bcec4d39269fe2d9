package models

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/pkg/errors"
)

const PageSize = 4096

// Layout holds the addresses a linker script would normally provide. The
// kernel treats them as opaque, page-aligned boundaries.
type Layout struct {
	RAMBase uint32
	RAMSize uint32
	// KernelBase..FreeRAMEnd is mapped into every process with full
	// permissions.
	KernelBase uint32
	FreeRAM    uint32
	FreeRAMEnd uint32
	UserBase   uint32
	VirtioBase uint32
}

type Config struct {
	Layout Layout

	ProcsMax         int
	KernelStackPages int
	// virtqueue entries
	QueueSize int
	// IOTimeout bounds the wait for a block request to complete.
	IOTimeout time.Duration
	// IdlePoll is how long the idle loop sleeps when a process is blocked
	// on console input and nothing else can run.
	IdlePoll time.Duration

	Verbose bool
	Color   bool
	Output  io.Writer

	TraceFile string

	logger *slog.Logger
}

func DefaultLayout() Layout {
	return Layout{
		RAMBase:    0x80000000,
		RAMSize:    16 << 20,
		KernelBase: 0x80200000,
		FreeRAM:    0x80400000,
		FreeRAMEnd: 0x80c00000,
		UserBase:   0x01000000,
		VirtioBase: 0x10001000,
	}
}

func DefaultConfig() *Config {
	return &Config{
		Layout:           DefaultLayout(),
		ProcsMax:         8,
		KernelStackPages: 2,
		QueueSize:        16,
		IOTimeout:        2 * time.Second,
		IdlePoll:         5 * time.Millisecond,
		Output:           os.Stderr,
	}
}

func aligned(addr uint32) bool { return addr%PageSize == 0 }

func (c *Config) Validate() error {
	l := &c.Layout
	for _, sym := range []struct {
		name string
		addr uint32
	}{
		{"ram base", l.RAMBase},
		{"ram size", l.RAMSize},
		{"kernel base", l.KernelBase},
		{"free ram", l.FreeRAM},
		{"free ram end", l.FreeRAMEnd},
		{"user base", l.UserBase},
		{"virtio base", l.VirtioBase},
	} {
		if !aligned(sym.addr) {
			return errors.Errorf("%s %#x is not page aligned", sym.name, sym.addr)
		}
	}
	ramEnd := uint64(l.RAMBase) + uint64(l.RAMSize)
	if l.KernelBase < l.RAMBase || l.FreeRAM < l.KernelBase || l.FreeRAMEnd < l.FreeRAM || uint64(l.FreeRAMEnd) > ramEnd {
		return errors.Errorf("layout out of order: ram %#x-%#x kernel %#x free %#x-%#x",
			l.RAMBase, ramEnd, l.KernelBase, l.FreeRAM, l.FreeRAMEnd)
	}
	if l.UserBase >= l.RAMBase && uint64(l.UserBase) < ramEnd {
		return errors.Errorf("user base %#x overlaps ram", l.UserBase)
	}
	if l.UserBase>>22 == l.KernelBase>>22 {
		return errors.New("user base shares a root page table slot with the kernel")
	}
	if c.ProcsMax < 2 {
		return errors.Errorf("need room for the idle process and one more, have %d slots", c.ProcsMax)
	}
	if c.KernelStackPages < 1 {
		return errors.New("kernel stack must be at least one page")
	}
	if c.QueueSize < 3 || c.QueueSize&(c.QueueSize-1) != 0 {
		return errors.Errorf("queue size %d must be a power of two holding a 3-descriptor chain", c.QueueSize)
	}
	return nil
}

// Logger returns the kernel logger, creating a text handler on Output the
// first time it is asked for.
func (c *Config) Logger() *slog.Logger {
	if c.logger == nil {
		out := c.Output
		if out == nil {
			out = os.Stderr
		}
		level := slog.LevelInfo
		if c.Verbose {
			level = slog.LevelDebug
		}
		c.logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	}
	return c.logger
}
