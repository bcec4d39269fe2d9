package models

import (
	"bytes"
	"flag"
	"strings"
	"testing"
)

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		edit func(c *Config)
	}{
		{"unaligned free ram", func(c *Config) { c.Layout.FreeRAM += 0x10 }},
		{"unaligned user base", func(c *Config) { c.Layout.UserBase = 0x01000800 }},
		{"free ram past ram end", func(c *Config) { c.Layout.FreeRAMEnd = 0x82000000 }},
		{"user base in ram", func(c *Config) { c.Layout.UserBase = 0x80800000 }},
		{"one process slot", func(c *Config) { c.ProcsMax = 1 }},
		{"odd queue size", func(c *Config) { c.QueueSize = 12 }},
	}
	for _, test := range tests {
		c := DefaultConfig()
		test.edit(c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: accepted", test.name)
		}
	}
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	c := DefaultConfig()
	c.Output = &buf
	c.Logger().Debug("hidden")
	c.Logger().Info("shown", "pid", 1)
	if strings.Contains(buf.String(), "hidden") {
		t.Fatal("debug record logged without Verbose")
	}
	if !strings.Contains(buf.String(), "pid=1") {
		t.Fatalf("missing record: %q", buf.String())
	}
}

func TestFrameDump(t *testing.T) {
	regs := []NamedReg{{"ra", 1}, {"sp", 2}, {"a0", 3}, {"a1", 4}, {"a2", 5}}
	out := FrameDump(regs, []uint64{1, 2, 9, 4, 5}, false)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("want 2 rows, got %q", out)
	}
	if !strings.Contains(out, "+   a0 0x00000003") {
		t.Fatalf("changed register not marked: %q", out)
	}
	if strings.Contains(out, "+   ra") {
		t.Fatalf("unchanged register marked: %q", out)
	}
}

func TestChangeMask(t *testing.T) {
	c := &Change{Old: 0x12345678, New: 0x12ff5678}
	masks := c.Mask(8)
	if len(masks) != 3 || masks[1].New != "ff" || !masks[1].Changed || masks[0].Changed {
		t.Fatalf("bad mask %+v", masks)
	}
}

func TestPrintFlags(t *testing.T) {
	fs := flag.NewFlagSet("x", flag.ContinueOnError)
	fs.Int("procs", 8, "process table size")
	var flags []*flag.Flag
	fs.VisitAll(func(f *flag.Flag) { flags = append(flags, f) })
	var buf bytes.Buffer
	PrintFlags(&buf, flags)
	if !strings.Contains(buf.String(), "-procs (8) process table size") {
		t.Fatalf("got %q", buf.String())
	}
}
