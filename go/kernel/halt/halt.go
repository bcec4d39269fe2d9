// Package halt is the kernel's unrecoverable error path. A fatal condition
// is logged with its source location, every waiter is released and the
// calling goroutine stops; the system never resumes after a halt.
package halt

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/mgutz/ansi"
)

// FatalError is what Kernel.Run reports after a halt.
type FatalError struct {
	Msg  string
	File string
	Line int
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("PANIC: %s:%d: %s", e.File, e.Line, e.Msg)
}

type Halter struct {
	log   *slog.Logger
	out   io.Writer
	color bool

	once   sync.Once
	halted chan struct{}
	err    *FatalError
	// dump renders extra context (the trap frame) under the banner
	dump func() string
}

func New(log *slog.Logger, out io.Writer, color bool) *Halter {
	return &Halter{log: log, out: out, color: color, halted: make(chan struct{})}
}

// SetDump installs a callback whose output follows the fatal banner.
func (h *Halter) SetDump(fn func() string) { h.dump = fn }

// Halted is closed once the system has halted.
func (h *Halter) Halted() <-chan struct{} { return h.halted }

// Err returns the first fatal error, or nil.
func (h *Halter) Err() *FatalError {
	select {
	case <-h.halted:
		return h.err
	default:
		return nil
	}
}

// Fatalf halts the system. It does not return: the calling goroutine is
// terminated with runtime.Goexit after deferred calls run.
func (h *Halter) Fatalf(format string, args ...interface{}) {
	h.halt(2, fmt.Sprintf(format, args...))
	runtime.Goexit()
}

// Stop halts without terminating the caller. Only the first halt is
// recorded.
func (h *Halter) Stop(format string, args ...interface{}) {
	h.halt(2, fmt.Sprintf(format, args...))
}

func (h *Halter) halt(skip int, msg string) {
	_, file, line, _ := runtime.Caller(skip)
	h.once.Do(func() {
		h.err = &FatalError{Msg: msg, File: filepath.Base(file), Line: line}
		h.log.Error("kernel panic", "msg", msg, "file", h.err.File, "line", line)
		if h.out != nil {
			banner := "PANIC"
			if h.color {
				banner = ansi.Color(banner, "red+b")
			}
			fmt.Fprintf(h.out, "%s: %s:%d: %s\n", banner, h.err.File, line, msg)
			if h.dump != nil {
				fmt.Fprint(h.out, h.dump())
			}
		}
		close(h.halted)
	})
}
