package virtio

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/tinyrv/rvkern/go/kernel/palloc"
	"github.com/tinyrv/rvkern/go/models/cpu"
)

const (
	ramBase  = 0x80000000
	mmioBase = 0x10001000
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newDriver(t *testing.T, disk Disk) *Blk {
	bus := cpu.NewBus(32, binary.LittleEndian, ramBase, 0x40000)
	dev := NewDevice(bus, disk, quiet)
	t.Cleanup(dev.Close)
	if err := bus.MapDevice(mmioBase, WindowSize, dev, "virtio-blk"); err != nil {
		t.Fatal(err)
	}
	alloc := palloc.New(bus, ramBase+0x10000, ramBase+0x40000)
	blk := NewBlk(bus, mmioBase, alloc, 16, time.Second, quiet)
	if err := blk.Init(); err != nil {
		t.Fatal(err)
	}
	return blk
}

func sector(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, SectorSize)
}

func TestWriteThenRead(t *testing.T) {
	disk := NewMemDisk(16 * SectorSize)
	blk := newDriver(t, disk)
	if blk.Sectors() != 16 || blk.Capacity() != 16*SectorSize {
		t.Fatalf("capacity %d sectors", blk.Sectors())
	}
	// more requests than queue entries, so the rings wrap
	for i := 0; i < 40; i++ {
		sec := uint64(i % 16)
		buf := sector(byte(i))
		buf[0] = byte(sec)
		if err := blk.ReadWrite(buf, sec, true); err != nil {
			t.Fatal(err)
		}
		got := make([]byte, SectorSize)
		if err := blk.ReadWrite(got, sec, false); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, buf) {
			t.Fatalf("sector %d read back differently", sec)
		}
	}
	raw := disk.Bytes()
	if raw[15*SectorSize] != 15 || raw[15*SectorSize+1] != 31 {
		t.Fatal("writes did not reach the backing disk")
	}
}

func TestSectorOutOfRange(t *testing.T) {
	blk := newDriver(t, NewMemDisk(4*SectorSize))
	buf := sector(0x5a)
	for _, sec := range []uint64{4, 1000} {
		if err := blk.ReadWrite(buf, sec, false); errors.Cause(err) != ErrBadSector {
			t.Fatalf("sector %d: got %v", sec, err)
		}
	}
	if !bytes.Equal(buf, sector(0x5a)) {
		t.Fatal("rejected request modified the buffer")
	}
}

type failingDisk struct{ *MemDisk }

func (failingDisk) ReadAt(p []byte, off int64) (int, error) {
	return 0, errors.New("media error")
}

func TestDeviceError(t *testing.T) {
	blk := newDriver(t, failingDisk{NewMemDisk(4 * SectorSize)})
	buf := sector(7)
	if err := blk.ReadWrite(buf, 1, false); errors.Cause(err) != ErrIO {
		t.Fatalf("got %v, want I/O error", err)
	}
	if !bytes.Equal(buf, sector(7)) {
		t.Fatal("failed read modified the buffer")
	}
	// writes still work and the queue keeps going
	if err := blk.ReadWrite(buf, 1, true); err != nil {
		t.Fatal(err)
	}
}

func TestNotPresent(t *testing.T) {
	bus := cpu.NewBus(32, binary.LittleEndian, ramBase, 0x40000)
	alloc := palloc.New(bus, ramBase+0x10000, ramBase+0x40000)
	blk := NewBlk(bus, mmioBase, alloc, 16, time.Second, quiet)
	if err := blk.Init(); errors.Cause(err) != ErrNotPresent {
		t.Fatalf("got %v", err)
	}
}

func TestTimeout(t *testing.T) {
	bus := cpu.NewBus(32, binary.LittleEndian, ramBase, 0x40000)
	dev := NewDevice(bus, NewMemDisk(4*SectorSize), quiet)
	bus.MapDevice(mmioBase, WindowSize, dev, "virtio-blk")
	alloc := palloc.New(bus, ramBase+0x10000, ramBase+0x40000)
	blk := NewBlk(bus, mmioBase, alloc, 16, 20*time.Millisecond, quiet)
	if err := blk.Init(); err != nil {
		t.Fatal(err)
	}
	// a device that stops serving requests
	dev.Close()
	if err := blk.ReadWrite(sector(0), 0, true); errors.Cause(err) != ErrTimeout {
		t.Fatalf("got %v, want timeout", err)
	}
	if err := blk.ReadWrite(sector(0), 0, true); errors.Cause(err) != ErrTimeout {
		t.Fatalf("reused a chain still owned by the device: %v", err)
	}
}

func TestQueueLayout(t *testing.T) {
	avail, used, size := queueLayout(16, PageSize)
	if avail != 256 || used != PageSize || size != 2*PageSize {
		t.Fatalf("avail %d used %d size %d", avail, used, size)
	}
}

// lazyDevice completes requests without writing their status byte once
// lazy is set.
type lazyDevice struct {
	*Device
	bus  *cpu.Bus
	blk  *Blk
	lazy bool
}

func (l *lazyDevice) Write(off uint64, size int, val uint64) error {
	if off == REG_QUEUE_NOTIFY && l.lazy {
		used := uint64(l.blk.vq + l.blk.usedOff + 2)
		return l.bus.WriteUint(used, 2, uint64(l.blk.usedIdx()+1))
	}
	return l.Device.Write(off, size, val)
}

func TestMissingStatusFails(t *testing.T) {
	bus := cpu.NewBus(32, binary.LittleEndian, ramBase, 0x40000)
	dev := &lazyDevice{Device: NewDevice(bus, NewMemDisk(4*SectorSize), quiet), bus: bus}
	t.Cleanup(dev.Close)
	if err := bus.MapDevice(mmioBase, WindowSize, dev, "virtio-blk"); err != nil {
		t.Fatal(err)
	}
	alloc := palloc.New(bus, ramBase+0x10000, ramBase+0x40000)
	dev.blk = NewBlk(bus, mmioBase, alloc, 16, time.Second, quiet)
	if err := dev.blk.Init(); err != nil {
		t.Fatal(err)
	}
	// leaves a zero status behind
	if err := dev.blk.ReadWrite(sector(1), 0, true); err != nil {
		t.Fatal(err)
	}
	dev.lazy = true
	buf := sector(9)
	if err := dev.blk.ReadWrite(buf, 0, false); errors.Cause(err) != ErrIO {
		t.Fatalf("got %v, want I/O error", err)
	}
	if !bytes.Equal(buf, sector(9)) {
		t.Fatal("failed read modified the buffer")
	}
}
