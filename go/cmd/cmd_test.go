package cmd

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tinyrv/rvkern/go/cpu/rv32"
	"github.com/tinyrv/rvkern/go/ui"
)

type interruptConsole struct{ *ui.StreamConsole }

func (interruptConsole) Pump(ctx context.Context) error { return ui.ErrInterrupt }
func (interruptConsole) Close() error                   { return nil }

func newTestCmd(t *testing.T, input string) (*KernelCmd, *bytes.Buffer, *bytes.Buffer) {
	var out, errs bytes.Buffer
	c := NewKernelCmd()
	c.Flags = flag.NewFlagSet("rvkern", flag.ContinueOnError)
	c.Stdout = &out
	c.Stderr = &errs
	c.MakeConsole = func(line bool, interrupt func()) (console, error) {
		return &streamConsole{ui.NewStreamConsole(&out), strings.NewReader(input)}, nil
	}
	return c, &out, &errs
}

func TestShellSession(t *testing.T) {
	disk := filepath.Join(t.TempDir(), "disk.tar")
	c, out, errs := newTestCmd(t, "hello\nreadfile\nwritefile\nreadfile\nbogus\nexit\n")
	if code := c.Run([]string{"rvkern", "-mkdisk", "-disk", disk}); code != 0 {
		t.Fatalf("exit status %d, stderr:\n%s", code, errs.String())
	}
	want := "-> hello\nhey!\n" +
		"-> readfile\nreadfile: no such file\n" +
		"-> writefile\n" +
		"-> readfile\nHello from shell!\n\n" +
		"-> bogus\nunrecognized command: bogus\n" +
		"-> exit\n"
	if out.String() != want {
		t.Fatalf("got %q\nwant %q", out.String(), want)
	}
	data, err := os.ReadFile(disk)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte("Hello from shell!\n")) {
		t.Fatal("write did not reach the disk image")
	}
}

func TestShellLineTooLong(t *testing.T) {
	disk := filepath.Join(t.TempDir(), "disk.tar")
	c, out, errs := newTestCmd(t, strings.Repeat("x", 200)+"\nexit\n")
	if code := c.Run([]string{"rvkern", "-mkdisk", "-disk", disk}); code != 0 {
		t.Fatalf("exit status %d, stderr:\n%s", code, errs.String())
	}
	if !strings.Contains(out.String(), strings.Repeat("x", 128)+"\n\nhold up youngster, you're yapping too much\n\n-> ") {
		t.Fatalf("got %q", out.String())
	}
}

func TestRunImageFault(t *testing.T) {
	dir := t.TempDir()
	p := rv32.NewProgram().Emit(rv32.EBREAK())
	image, err := p.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "fault.bin")
	if err := os.WriteFile(path, image, 0644); err != nil {
		t.Fatal(err)
	}
	c, _, errs := newTestCmd(t, "")
	code := c.Run([]string{"rvkern", "-mkdisk", "-disk", filepath.Join(dir, "disk.tar"), "-color", "never", path})
	if code != 1 {
		t.Fatalf("exit status %d", code)
	}
	if !strings.Contains(errs.String(), "PANIC") || !strings.Contains(errs.String(), "UNRECOGNIZED EXCEPTION") {
		t.Fatalf("missing panic banner: %q", errs.String())
	}
	if strings.Contains(errs.String(), "Error:") {
		t.Fatal("kernel panic also printed as a setup error")
	}
}

func TestRunMissingDisk(t *testing.T) {
	c, _, errs := newTestCmd(t, "")
	code := c.Run([]string{"rvkern", "-disk", filepath.Join(t.TempDir(), "missing.tar")})
	if code != 1 || !strings.Contains(errs.String(), "Error:") {
		t.Fatalf("exit status %d, stderr %q", code, errs.String())
	}
}

func TestRunInterrupted(t *testing.T) {
	disk := filepath.Join(t.TempDir(), "disk.tar")
	c, out, _ := newTestCmd(t, "")
	c.MakeConsole = func(line bool, interrupt func()) (console, error) {
		return interruptConsole{ui.NewStreamConsole(out)}, nil
	}
	if code := c.Run([]string{"rvkern", "-mkdisk", "-disk", disk}); code != 130 {
		t.Fatalf("exit status %d", code)
	}
}

func TestRunTrace(t *testing.T) {
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "boot.trace")
	c, _, errs := newTestCmd(t, "exit\n")
	code := c.Run([]string{"rvkern", "-mkdisk", "-disk", filepath.Join(dir, "disk.tar"), "-trace", tracePath})
	if code != 0 {
		t.Fatalf("exit status %d, stderr:\n%s", code, errs.String())
	}
	fi, err := os.Stat(tracePath)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() == 0 {
		t.Fatal("empty trace file")
	}
}
