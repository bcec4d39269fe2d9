package machine

import (
	"io"
	"testing"

	"github.com/tinyrv/rvkern/go/models"
	"github.com/tinyrv/rvkern/go/models/cpu"
	"github.com/tinyrv/rvkern/go/virtio"
)

type nullConsole struct{}

func (nullConsole) PutChar(c byte) error  { return nil }
func (nullConsole) GetChar() (byte, bool) { return 0, false }

func TestBoardVirtioWindow(t *testing.T) {
	cfg := models.DefaultConfig()
	cfg.Output = io.Discard
	b, err := NewBoard(cfg, virtio.NewMemDisk(4*virtio.SectorSize), nullConsole{})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	magic, err := b.Bus.ReadUint(uint64(cfg.Layout.VirtioBase)+virtio.REG_MAGIC, 4, cpu.MEM_READ)
	if err != nil {
		t.Fatal(err)
	}
	if magic != virtio.MAGIC {
		t.Fatalf("magic %#x", magic)
	}
	if !b.Bus.InRAM(uint64(cfg.Layout.FreeRAM), 4096) {
		t.Fatal("free ram is not backed by the bus")
	}
}

func TestBoardWithoutDisk(t *testing.T) {
	cfg := models.DefaultConfig()
	cfg.Output = io.Discard
	b, err := NewBoard(cfg, nil, nullConsole{})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if _, err := b.Bus.ReadUint(uint64(cfg.Layout.VirtioBase), 4, cpu.MEM_READ); err == nil {
		t.Fatal("read from an empty virtio window succeeded")
	}
}

func TestBoardRejectsPartialSector(t *testing.T) {
	cfg := models.DefaultConfig()
	cfg.Output = io.Discard
	if _, err := NewBoard(cfg, virtio.NewMemDisk(100), nullConsole{}); err == nil {
		t.Fatal("accepted a disk with a partial sector")
	}
}
