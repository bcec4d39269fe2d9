package sv32

import (
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"

	"github.com/tinyrv/rvkern/go/cpu/rv32"
	"github.com/tinyrv/rvkern/go/kernel/palloc"
	"github.com/tinyrv/rvkern/go/models/cpu"
)

const ramBase = 0x80000000

func newMapper(t *testing.T) (*Mapper, *palloc.Allocator, uint32) {
	bus := cpu.NewBus(32, binary.LittleEndian, ramBase, 0x100000)
	alloc := palloc.New(bus, ramBase+0x80000, ramBase+0x100000)
	m := New(bus, alloc)
	root, err := m.NewTable()
	if err != nil {
		t.Fatal(err)
	}
	return m, alloc, root
}

func TestMapWalk(t *testing.T) {
	m, _, root := newMapper(t)
	cases := []struct{ va, pa, flags uint32 }{
		{0x01000000, ramBase + 0x1000, rv32.PTE_U | rv32.PTE_R | rv32.PTE_X},
		{0x01001000, ramBase + 0x5000, rv32.PTE_U | rv32.PTE_R | rv32.PTE_W},
		{0x80200000, 0x80200000, rv32.PTE_R | rv32.PTE_W | rv32.PTE_X},
	}
	for _, c := range cases {
		if err := m.Map(root, c.va, c.pa, c.flags); err != nil {
			t.Fatal(err)
		}
	}
	for _, c := range cases {
		pte, err := m.Walk(root, c.va)
		if err != nil {
			t.Fatal(err)
		}
		if pte.PA() != c.pa || pte.Perm() != c.flags|rv32.PTE_V {
			t.Errorf("va %#x: got pa %#x perm %#x, want %#x %#x", c.va, pte.PA(), pte.Perm(), c.pa, c.flags|rv32.PTE_V)
		}
	}
	if _, err := m.Walk(root, 0x02000000); errors.Cause(err) != ErrNotMapped {
		t.Fatalf("unmapped walk: %v", err)
	}
}

func TestLeafTableReuse(t *testing.T) {
	m, alloc, root := newMapper(t)
	if err := m.Map(root, 0x01000000, ramBase, rv32.PTE_R); err != nil {
		t.Fatal(err)
	}
	used := alloc.Used()
	if err := m.Map(root, 0x01003000, ramBase+0x3000, rv32.PTE_R); err != nil {
		t.Fatal(err)
	}
	if alloc.Used() != used {
		t.Fatal("second mapping in the same 4MiB window allocated a new leaf table")
	}
	if err := m.Map(root, 0x01400000, ramBase, rv32.PTE_R); err != nil {
		t.Fatal(err)
	}
	if alloc.Used() != used+PageSize {
		t.Fatal("new root slot did not get a leaf table")
	}
}

func TestMapUnaligned(t *testing.T) {
	m, _, root := newMapper(t)
	if err := m.Map(root, 0x01000010, ramBase, rv32.PTE_R); errors.Cause(err) != ErrUnaligned {
		t.Fatalf("unaligned va: %v", err)
	}
	if err := m.Map(root, 0x01000000, ramBase+8, rv32.PTE_R); errors.Cause(err) != ErrUnaligned {
		t.Fatalf("unaligned pa: %v", err)
	}
}

func TestCopyUser(t *testing.T) {
	m, _, root := newMapper(t)
	// two user pages backed by non-adjacent frames, then a kernel-only page
	m.Map(root, 0x01000000, ramBase+0x2000, rv32.PTE_U|rv32.PTE_R|rv32.PTE_W)
	m.Map(root, 0x01001000, ramBase+0x7000, rv32.PTE_U|rv32.PTE_R|rv32.PTE_W)
	m.Map(root, 0x01002000, ramBase+0x9000, rv32.PTE_R|rv32.PTE_W)
	m.Map(root, 0x01003000, ramBase+0xa000, rv32.PTE_U|rv32.PTE_R)

	msg := []byte("crossing a page boundary")
	va := uint32(0x01001000 - 8)
	if err := m.CopyOut(root, va, msg); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(msg))
	if err := m.CopyIn(root, va, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != string(msg) {
		t.Fatalf("got %q", got)
	}
	if b, _ := m.bus.MemRead(ramBase+0x7000, 1); b[0] != msg[8] {
		t.Fatal("second page not written through its own frame")
	}

	if err := m.CopyIn(root, 0x01002000, got); errors.Cause(err) != ErrPerm {
		t.Fatalf("kernel page readable from user copy: %v", err)
	}
	if err := m.CopyOut(root, 0x01003000, got); errors.Cause(err) != ErrPerm {
		t.Fatalf("read-only page writable: %v", err)
	}
	if err := m.CopyIn(root, 0x01001ff0, got); errors.Cause(err) != ErrPerm {
		t.Fatalf("buffer running into a kernel page accepted: %v", err)
	}
	if err := m.CopyIn(root, 0xfffffff0, got); errors.Cause(err) != ErrNotMapped {
		t.Fatalf("wrapping buffer: %v", err)
	}
}

func TestCopyInString(t *testing.T) {
	m, _, root := newMapper(t)
	m.Map(root, 0x01000000, ramBase+0x2000, rv32.PTE_U|rv32.PTE_R|rv32.PTE_W)
	m.CopyOut(root, 0x01000100, []byte("notes.txt\x00junk"))
	s, err := m.CopyInString(root, 0x01000100, 100)
	if err != nil || s != "notes.txt" {
		t.Fatalf("got %q, %v", s, err)
	}
	if _, err := m.CopyInString(root, 0x01000100, 4); err == nil {
		t.Fatal("overlong string accepted")
	}
}
