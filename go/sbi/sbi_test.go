package sbi

import (
	"io"
	"log/slog"
	"testing"
)

type fakeConsole struct {
	out []byte
	in  []byte
}

func (c *fakeConsole) PutChar(b byte) error {
	c.out = append(c.out, b)
	return nil
}

func (c *fakeConsole) GetChar() (byte, bool) {
	if len(c.in) == 0 {
		return 0, false
	}
	b := c.in[0]
	c.in = c.in[1:]
	return b, true
}

func newFirmware(c *fakeConsole) *Firmware {
	return New(c, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestConsole(t *testing.T) {
	c := &fakeConsole{in: []byte("x")}
	f := newFirmware(c)
	f.PutChar('h')
	f.PutChar('i')
	if string(c.out) != "hi" {
		t.Fatalf("console got %q", c.out)
	}
	if got := f.GetChar(); got != 'x' {
		t.Fatalf("GetChar = %d", got)
	}
	if got := f.GetChar(); got != -1 {
		t.Fatalf("GetChar with no input = %d, want -1", got)
	}
}

func TestUnsupported(t *testing.T) {
	f := newFirmware(&fakeConsole{})
	if ret := f.Call([6]uint32{}, 0, 0x10); ret.Error != ErrNotSupported {
		t.Fatalf("got %+v", ret)
	}
}
