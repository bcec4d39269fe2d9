package ui

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/tinyrv/rvkern/go/models"
)

// Buffer is an in-memory console. Output accumulates; input is whatever
// was fed.
type Buffer struct {
	mu  sync.Mutex
	in  []byte
	out bytes.Buffer
}

var _ models.Console = &Buffer{}

func NewBuffer(input string) *Buffer {
	return &Buffer{in: []byte(input)}
}

func (b *Buffer) PutChar(c byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.out.WriteByte(c)
}

func (b *Buffer) GetChar() (byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.in) == 0 {
		return 0, false
	}
	c := b.in[0]
	b.in = b.in[1:]
	return c, true
}

// Feed queues more input.
func (b *Buffer) Feed(s string) {
	b.mu.Lock()
	b.in = append(b.in, s...)
	b.mu.Unlock()
}

// String is everything written so far.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.out.String()
}

// StreamConsole writes to an io.Writer and serves input pumped from an
// io.Reader.
type StreamConsole struct {
	mu sync.Mutex
	w  io.Writer
	// crlf expands \n on output and reads \r as \n, for terminals in raw
	// mode
	crlf bool
	in   chan byte
	// Interrupt, if set, is called instead of queueing a ^C byte.
	Interrupt func()
}

func NewStreamConsole(w io.Writer) *StreamConsole {
	return &StreamConsole{w: w, in: make(chan byte, 4096)}
}

func (s *StreamConsole) PutChar(c byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if c == '\n' && s.crlf {
		_, err = s.w.Write([]byte("\r\n"))
	} else {
		_, err = s.w.Write([]byte{c})
	}
	return err
}

func (s *StreamConsole) GetChar() (byte, bool) {
	select {
	case c := <-s.in:
		return c, true
	default:
		return 0, false
	}
}

// Push queues input bytes, blocking while the queue is full.
func (s *StreamConsole) Push(ctx context.Context, p []byte) error {
	for _, c := range p {
		if c == 3 && s.Interrupt != nil {
			s.Interrupt()
			continue
		}
		if c == '\r' && s.crlf {
			c = '\n'
		}
		select {
		case s.in <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Pump copies r into the input queue until r ends or ctx is cancelled. A
// reader blocked in Read is abandoned on cancellation.
func (s *StreamConsole) Pump(ctx context.Context, r io.Reader) error {
	errc := make(chan error, 1)
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				if perr := s.Push(ctx, buf[:n]); perr != nil {
					errc <- nil
					return
				}
			}
			if err == io.EOF {
				errc <- nil
				return
			} else if err != nil {
				errc <- errors.Wrap(err, "console input")
				return
			}
		}
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return nil
	}
}

// RawConsole is a StreamConsole on a terminal switched to raw mode, so the
// kernel sees each key as it is typed.
type RawConsole struct {
	*StreamConsole
	fd    int
	state *term.State
}

func NewRawConsole(in, out *os.File) (*RawConsole, error) {
	fd := int(in.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, errors.Wrap(err, "failed to set raw mode")
	}
	s := NewStreamConsole(out)
	s.crlf = true
	return &RawConsole{StreamConsole: s, fd: fd, state: state}, nil
}

// Close restores the terminal.
func (r *RawConsole) Close() error {
	if r.state == nil {
		return nil
	}
	err := term.Restore(r.fd, r.state)
	r.state = nil
	return err
}
