package ctxsw

import (
	"sync"
	"testing"
)

func TestPingPong(t *testing.T) {
	s := NewSwitcher()
	main := Adopt("main")
	var trace []string
	var a, b *Context
	a = New("a", func() {
		for {
			trace = append(trace, "a")
			s.Switch(a, b)
		}
	})
	b = New("b", func() {
		trace = append(trace, "b")
		s.Switch(b, a)
		trace = append(trace, "b")
		s.Exit(main)
	})
	s.Switch(main, a)
	got := ""
	for _, e := range trace {
		got += e
	}
	if got != "abab" {
		t.Fatalf("ran %q, want abab", got)
	}
	s.Halt()
}

func TestSwitchSelf(t *testing.T) {
	s := NewSwitcher()
	main := Adopt("main")
	s.Switch(main, main)
}

func TestHaltReleasesSuspended(t *testing.T) {
	s := NewSwitcher()
	main := Adopt("main")
	var wg sync.WaitGroup
	ctxs := make([]*Context, 3)
	for i := range ctxs {
		i := i
		wg.Add(1)
		ctxs[i] = New("c", func() {
			defer wg.Done()
			next := main
			if i+1 < len(ctxs) {
				next = ctxs[i+1]
			}
			s.Switch(ctxs[i], next)
			t.Error("suspended context resumed after halt")
		})
	}
	s.Switch(main, ctxs[0])
	s.Halt()
	wg.Wait()
	// returns once the goroutines themselves are gone
	s.Wait()
}
