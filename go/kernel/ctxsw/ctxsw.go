// Package ctxsw multiplexes kernel execution contexts onto one logical
// thread. Each context is a goroutine; exactly one is running at a time and
// the others are parked inside Switch.
package ctxsw

import (
	"fmt"
	"runtime"
	"sync"
)

// Context is a saved execution context. A fresh context starts at its entry
// function the first time it is switched to.
type Context struct {
	Name    string
	entry   func()
	wake    chan struct{}
	started bool
}

// New manufactures a context that has never run.
func New(name string, entry func()) *Context {
	return &Context{Name: name, entry: entry, wake: make(chan struct{}, 1)}
}

// Adopt wraps the calling goroutine, which is already running.
func Adopt(name string) *Context {
	return &Context{Name: name, wake: make(chan struct{}, 1), started: true}
}

func (c *Context) String() string { return c.Name }

type Switcher struct {
	once   sync.Once
	halted chan struct{}
	// goroutines started for fresh contexts
	wg sync.WaitGroup
}

func NewSwitcher() *Switcher {
	return &Switcher{halted: make(chan struct{})}
}

// Switch suspends prev, which must be the calling context, and resumes next.
// It returns when something switches back to prev.
func (s *Switcher) Switch(prev, next *Context) {
	if prev == next {
		return
	}
	s.resume(next)
	s.suspend(prev)
}

// Exit resumes next and terminates the calling context.
func (s *Switcher) Exit(next *Context) {
	s.resume(next)
	runtime.Goexit()
}

// Halt terminates every suspended context and any that is switched to
// afterwards.
func (s *Switcher) Halt() {
	s.once.Do(func() { close(s.halted) })
}

// Wait blocks until every context goroutine the switcher started has
// terminated. Call it after Halt.
func (s *Switcher) Wait() {
	s.wg.Wait()
}

func (s *Switcher) resume(next *Context) {
	if !next.started {
		next.started = true
		s.wg.Add(1)
		go s.run(next)
		return
	}
	next.wake <- struct{}{}
}

func (s *Switcher) suspend(c *Context) {
	select {
	case <-c.wake:
		select {
		case <-s.halted:
			runtime.Goexit()
		default:
		}
	case <-s.halted:
		runtime.Goexit()
	}
}

func (s *Switcher) run(c *Context) {
	defer s.wg.Done()
	select {
	case <-s.halted:
		return
	default:
	}
	c.entry()
	panic(fmt.Sprintf("context %s returned from its entry function", c.Name))
}
