// Package machine assembles the simulated board the kernel runs on: RAM on
// a 32-bit bus, a legacy virtio-mmio block device, the SBI console firmware
// and one RV32IM hart.
package machine

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/tinyrv/rvkern/go/cpu/rv32"
	"github.com/tinyrv/rvkern/go/models"
	"github.com/tinyrv/rvkern/go/models/cpu"
	"github.com/tinyrv/rvkern/go/sbi"
	"github.com/tinyrv/rvkern/go/virtio"
)

type Board struct {
	Layout models.Layout
	Bus    *cpu.Bus
	Hart   *rv32.Hart
	SBI    *sbi.Firmware
	// Blk is nil on a board built without a disk.
	Blk *virtio.Device
}

// NewBoard wires a board for cfg's layout. disk may be nil, in which case
// nothing answers at the virtio window.
func NewBoard(cfg *models.Config, disk virtio.Disk, console models.Console) (*Board, error) {
	if console == nil {
		return nil, errors.New("board needs a console")
	}
	l := cfg.Layout
	log := cfg.Logger()
	bus := cpu.NewBus(32, binary.LittleEndian, uint64(l.RAMBase), uint64(l.RAMSize))
	b := &Board{
		Layout: l,
		Bus:    bus,
		Hart:   rv32.New(bus),
		SBI:    sbi.New(console, log.With("dev", "sbi")),
	}
	if disk != nil {
		if disk.Size()%virtio.SectorSize != 0 {
			return nil, errors.Errorf("disk size %d is not a whole number of sectors", disk.Size())
		}
		b.Blk = virtio.NewDevice(bus, disk, log.With("dev", "virtio-blk"))
		if err := bus.MapDevice(uint64(l.VirtioBase), virtio.WindowSize, b.Blk, "virtio-blk"); err != nil {
			b.Blk.Close()
			return nil, errors.Wrap(err, "mapping virtio-blk")
		}
	}
	return b, nil
}

// Close stops the device models.
func (b *Board) Close() {
	if b.Blk != nil {
		b.Blk.Close()
	}
}
