package virtio

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"runtime"
	"time"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/tinyrv/rvkern/go/models/cpu"
)

var (
	ErrNotPresent = errors.New("no virtio block device")
	ErrBadSector  = errors.New("sector out of range")
	ErrIO         = errors.New("device reported an I/O error")
	ErrTimeout    = errors.New("block request timed out")
)

// Allocator supplies zeroed, page-aligned physical memory.
type Allocator interface {
	Alloc(n uint32) (uint32, error)
}

// Blk is the driver for one virtio-blk device. It keeps a single request in
// flight: ReadWrite does not return until the device has completed it.
type Blk struct {
	bus     *cpu.Bus
	base    uint64
	alloc   Allocator
	n       uint32
	timeout time.Duration
	log     *slog.Logger

	vq       uint32 // physical address of the queue
	availOff uint32
	usedOff  uint32
	req      uint32 // physical address of the request buffer
	lastUsed uint16
	availIdx uint16
	sectors  uint64
	// set when a request timed out and may still complete
	stuck bool
}

func NewBlk(bus *cpu.Bus, base uint32, alloc Allocator, queueSize int, timeout time.Duration, log *slog.Logger) *Blk {
	return &Blk{
		bus:     bus,
		base:    uint64(base),
		alloc:   alloc,
		n:       uint32(queueSize),
		timeout: timeout,
		log:     log,
	}
}

func (b *Blk) read32(off uint64) uint32 {
	v, err := b.bus.ReadUint(b.base+off, 4, cpu.MEM_READ)
	if err != nil {
		b.log.Error("virtio register read failed", "off", off, "err", err)
	}
	return uint32(v)
}

func (b *Blk) write32(off uint64, val uint32) {
	if err := b.bus.WriteUint(b.base+off, 4, uint64(val)); err != nil {
		b.log.Error("virtio register write failed", "off", off, "err", err)
	}
}

func (b *Blk) setStatus(bit uint32) {
	b.write32(REG_STATUS, b.read32(REG_STATUS)|bit)
}

// Init runs the device handshake, registers the queue and reads the
// capacity. Each step depends on the previous one.
func (b *Blk) Init() error {
	magic, version, id := b.read32(REG_MAGIC), b.read32(REG_VERSION), b.read32(REG_DEVICE_ID)
	if magic != MAGIC || version != VERSION_LEGACY || id != DEVICE_ID_BLK {
		return errors.Wrapf(ErrNotPresent, "magic %#x version %d device id %d at %#x", magic, version, id, b.base)
	}
	b.write32(REG_STATUS, 0)
	b.setStatus(STATUS_ACK)
	b.setStatus(STATUS_DRIVER)
	// no optional features are used
	b.write32(REG_DRIVER_FEATURES, 0)
	b.setStatus(STATUS_FEAT_OK)

	b.write32(REG_QUEUE_SEL, 0)
	if qmax := b.read32(REG_QUEUE_NUM_MAX); qmax < b.n {
		return errors.Errorf("device queue holds %d entries, need %d", qmax, b.n)
	}
	var size uint32
	b.availOff, b.usedOff, size = queueLayout(b.n, PageSize)
	vq, err := b.alloc.Alloc(size / PageSize)
	if err != nil {
		return errors.Wrap(err, "allocating virtqueue")
	}
	b.vq = vq
	b.write32(REG_GUEST_PAGE_SIZE, PageSize)
	b.write32(REG_QUEUE_NUM, b.n)
	b.write32(REG_QUEUE_ALIGN, PageSize)
	b.write32(REG_QUEUE_PFN, vq/PageSize)
	b.setStatus(STATUS_DRIVER_OK)

	sectors, err := b.bus.ReadUint(b.base+REG_CONFIG, 8, cpu.MEM_READ)
	if err != nil {
		return errors.Wrap(err, "reading capacity")
	}
	b.sectors = sectors
	if b.req, err = b.alloc.Alloc(alignUp(reqSize, PageSize) / PageSize); err != nil {
		return errors.Wrap(err, "allocating request buffer")
	}
	b.log.Info("virtio-blk ready", "capacity", b.Capacity(), "queue", b.n)
	return nil
}

// Sectors is the device size in sectors.
func (b *Blk) Sectors() uint64 { return b.sectors }

// Capacity is the device size in bytes.
func (b *Blk) Capacity() uint64 { return b.sectors * SectorSize }

func (b *Blk) writeDesc(i uint32, d VirtQDesc) error {
	var buf bytes.Buffer
	if err := struc.PackWithOrder(&buf, &d, binary.LittleEndian); err != nil {
		return err
	}
	return b.bus.MemWrite(uint64(b.vq+i*descSize), buf.Bytes())
}

func (b *Blk) usedIdx() uint16 {
	v, _ := b.bus.ReadUint(uint64(b.vq+b.usedOff+2), 2, cpu.MEM_READ)
	return uint16(v)
}

// kick publishes the chain at head and notifies the device.
func (b *Blk) kick(head uint16) {
	slot := uint32(b.availIdx) % b.n
	b.bus.WriteUint(uint64(b.vq+b.availOff+4+2*slot), 2, uint64(head))
	b.availIdx++
	// the idx store is ordered after the ring entry by the bus lock
	b.bus.WriteUint(uint64(b.vq+b.availOff+2), 2, uint64(b.availIdx))
	b.write32(REG_QUEUE_NOTIFY, 0)
	b.lastUsed++
}

// wait spins until the device catches up with lastUsed.
func (b *Blk) wait() error {
	deadline := time.Now().Add(b.timeout)
	for b.usedIdx() != b.lastUsed {
		if time.Now().After(deadline) {
			b.stuck = true
			return ErrTimeout
		}
		runtime.Gosched()
	}
	b.stuck = false
	return nil
}

// ReadWrite transfers one sector between buf and the disk. An out of range
// sector or a failed request leaves buf untouched.
func (b *Blk) ReadWrite(buf []byte, sector uint64, write bool) error {
	if len(buf) != SectorSize {
		return errors.Errorf("buffer is %d bytes, want %d", len(buf), SectorSize)
	}
	if sector >= b.sectors {
		b.log.Warn("virtio: tried to read/write sector out of range", "sector", sector, "sectors", b.sectors)
		return errors.Wrapf(ErrBadSector, "sector %d of %d", sector, b.sectors)
	}
	if b.stuck {
		// the previous chain is still owned by the device until it completes
		if b.usedIdx() != b.lastUsed {
			return errors.Wrap(ErrTimeout, "previous request still in flight")
		}
		b.stuck = false
	}

	typ := uint32(BLK_T_IN)
	if write {
		typ = BLK_T_OUT
	}
	var hdr bytes.Buffer
	if err := struc.PackWithOrder(&hdr, &BlkReqHeader{Type: typ, Sector: sector}, binary.LittleEndian); err != nil {
		return err
	}
	if err := b.bus.MemWrite(uint64(b.req), hdr.Bytes()); err != nil {
		return err
	}
	if write {
		if err := b.bus.MemWrite(uint64(b.req+headerSize), buf); err != nil {
			return err
		}
	}
	dataFlags := uint16(VIRTQ_DESC_F_NEXT)
	if !write {
		dataFlags |= VIRTQ_DESC_F_WRITE
	}
	chain := []VirtQDesc{
		{Addr: uint64(b.req), Len: headerSize, Flags: VIRTQ_DESC_F_NEXT, Next: 1},
		{Addr: uint64(b.req + headerSize), Len: SectorSize, Flags: dataFlags, Next: 2},
		{Addr: uint64(b.req + headerSize + SectorSize), Len: 1, Flags: VIRTQ_DESC_F_WRITE},
	}
	for i, d := range chain {
		if err := b.writeDesc(uint32(i), d); err != nil {
			return err
		}
	}
	// a device that completes without writing status reads as failed
	if err := b.bus.WriteUint(uint64(b.req+headerSize+SectorSize), 1, statusPending); err != nil {
		return err
	}
	b.kick(0)
	if err := b.wait(); err != nil {
		b.log.Error("virtio: request timed out", "sector", sector, "write", write)
		return errors.Wrapf(err, "sector %d", sector)
	}

	status, err := b.bus.ReadUint(uint64(b.req+headerSize+SectorSize), 1, cpu.MEM_READ)
	if err != nil {
		return err
	}
	if status != BLK_S_OK {
		b.log.Warn("virtio: warn: failed to read/write sector", "sector", sector, "status", status)
		return errors.Wrapf(ErrIO, "sector %d status %d", sector, status)
	}
	if !write {
		return b.bus.MemReadInto(buf, uint64(b.req+headerSize))
	}
	return nil
}
