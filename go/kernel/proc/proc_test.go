package proc

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/pkg/errors"

	"github.com/tinyrv/rvkern/go/cpu/rv32"
	"github.com/tinyrv/rvkern/go/kernel/ctxsw"
	"github.com/tinyrv/rvkern/go/kernel/palloc"
	"github.com/tinyrv/rvkern/go/kernel/sv32"
	"github.com/tinyrv/rvkern/go/models"
	"github.com/tinyrv/rvkern/go/models/cpu"
)

type fixture struct {
	tb     *Table
	hart   *rv32.Hart
	mapper *sv32.Mapper
	bus    *cpu.Bus
	sw     *ctxsw.Switcher
}

func newFixture(t *testing.T, procs int) *fixture {
	cfg := models.DefaultConfig()
	cfg.Output = io.Discard
	cfg.ProcsMax = procs
	l := cfg.Layout
	bus := cpu.NewBus(32, binary.LittleEndian, uint64(l.RAMBase), uint64(l.RAMSize))
	alloc := palloc.New(bus, l.FreeRAM, l.FreeRAMEnd)
	mapper := sv32.New(bus, alloc)
	hart := rv32.New(bus)
	sw := ctxsw.NewSwitcher()
	t.Cleanup(sw.Halt)
	f := &fixture{
		tb:     NewTable(cfg, bus, alloc, mapper, hart, sw),
		hart:   hart,
		mapper: mapper,
		bus:    bus,
		sw:     sw,
	}
	if _, err := f.tb.CreateIdle(); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) spawn(t *testing.T, n int) []*PCB {
	var ps []*PCB
	for i := 0; i < n; i++ {
		p, err := f.tb.Create([]byte{0x13, 0, 0, 0})
		if err != nil {
			t.Fatal(err)
		}
		ps = append(ps, p)
	}
	return ps
}

func TestRoundRobin(t *testing.T) {
	f := newFixture(t, 4)
	var order []int
	f.tb.Entry = func(p *PCB) {
		for i := 0; i < 3; i++ {
			order = append(order, p.PID)
			f.tb.Yield()
		}
		f.tb.Exit(10 + p.PID)
	}
	f.spawn(t, 3)
	if !f.tb.Yield() {
		t.Fatal("idle did not switch to a runnable process")
	}
	want := []int{1, 2, 3, 1, 2, 3, 1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("ran %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("ran %v, want %v", order, want)
		}
	}
	if f.tb.Current().PID != 0 {
		t.Fatalf("back in pid %d, want idle", f.tb.Current().PID)
	}
	if f.tb.Runnable() != 0 {
		t.Fatal("processes still runnable after exit")
	}
	if p := f.tb.Get(2); p.State != Exited || p.ExitCode != 12 {
		t.Fatalf("slot 2: %v code %d", p.State, p.ExitCode)
	}
}

func TestYieldAlone(t *testing.T) {
	f := newFixture(t, 4)
	if f.tb.Yield() {
		t.Fatal("idle switched with nothing runnable")
	}
	switched := true
	f.tb.Entry = func(p *PCB) {
		switched = f.tb.Yield()
		f.tb.Exit(0)
	}
	f.spawn(t, 1)
	f.tb.Yield()
	if switched {
		t.Fatal("the only runnable process switched away on yield")
	}
}

func TestPublishOnSwitch(t *testing.T) {
	f := newFixture(t, 4)
	var satp, sscratch uint64
	var self *PCB
	f.tb.Entry = func(p *PCB) {
		self = p
		satp = f.hart.CsrRead(rv32.SATP)
		sscratch = f.hart.CsrRead(rv32.SSCRATCH)
		f.tb.Exit(0)
	}
	f.spawn(t, 1)
	f.tb.Yield()
	if satp != uint64(self.Satp()) || sscratch != uint64(self.KStackTop) {
		t.Fatalf("satp %#x sscratch %#x, want %#x %#x", satp, sscratch, self.Satp(), self.KStackTop)
	}
	idle := f.tb.Get(0)
	if f.hart.CsrRead(rv32.SATP) != uint64(idle.Satp()) {
		t.Fatal("idle address space not restored after exit")
	}
}

func TestTableFullAndReuse(t *testing.T) {
	f := newFixture(t, 3)
	f.tb.Entry = func(p *PCB) { f.tb.Exit(0) }
	f.spawn(t, 2)
	if _, err := f.tb.Create(nil); errors.Cause(err) != ErrTableFull {
		t.Fatalf("got %v, want table full", err)
	}
	f.tb.Yield()
	p, err := f.tb.Create(nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.Slot != 1 || p.PID != 3 {
		t.Fatalf("reused slot %d pid %d, want slot 1 pid 3", p.Slot, p.PID)
	}
}

func TestImageMapping(t *testing.T) {
	f := newFixture(t, 4)
	image := make([]byte, 5000)
	for i := range image {
		image[i] = byte(i) | 1
	}
	p, err := f.tb.Create(image)
	if err != nil {
		t.Fatal(err)
	}
	base := models.DefaultLayout().UserBase
	for _, va := range []uint32{base, base + sv32.PageSize} {
		pte, err := f.mapper.Walk(p.Root, va)
		if err != nil {
			t.Fatal(err)
		}
		if pte.Perm() != rv32.PTE_V|rv32.PTE_U|rv32.PTE_R|rv32.PTE_W|rv32.PTE_X {
			t.Fatalf("va %#x perm %#x", va, pte.Perm())
		}
	}
	if _, err := f.mapper.Walk(p.Root, base+2*sv32.PageSize); err == nil {
		t.Fatal("page past the image mapped")
	}
	tail := make([]byte, sv32.PageSize)
	if err := f.mapper.CopyIn(p.Root, base+sv32.PageSize, tail); err != nil {
		t.Fatal(err)
	}
	for i, b := range tail {
		want := byte(0)
		if i < 5000-sv32.PageSize {
			want = image[sv32.PageSize+i]
		}
		if b != want {
			t.Fatalf("tail byte %d = %#x, want %#x", i, b, want)
		}
	}
	kpte, err := f.mapper.Walk(p.Root, models.DefaultLayout().KernelBase)
	if err != nil {
		t.Fatal(err)
	}
	if kpte.Perm()&rv32.PTE_U != 0 || kpte.Perm()&rv32.PTE_X == 0 {
		t.Fatalf("kernel mapping perm %#x", kpte.Perm())
	}
}
