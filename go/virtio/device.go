package virtio

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/tinyrv/rvkern/go/models/cpu"
)

// QueueNumMax is the largest queue the device model accepts.
const QueueNumMax = 16

// Device models a legacy virtio-mmio block device. Requests are served on
// a separate goroutine after the driver writes the notify register, reading
// and writing guest memory through the bus.
type Device struct {
	bus  *cpu.Bus
	disk Disk
	log  *slog.Logger

	mu             sync.Mutex
	status         uint32
	driverFeatures uint32
	guestPageSize  uint32
	queueSel       uint32
	queueNum       uint32
	queueAlign     uint32
	queuePFN       uint32
	intStatus      uint32
	lastAvail      uint16
	usedIdx        uint16

	kick chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup
}

var _ cpu.Device = &Device{}

func NewDevice(bus *cpu.Bus, disk Disk, log *slog.Logger) *Device {
	d := &Device{
		bus:  bus,
		disk: disk,
		log:  log,
		kick: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
	d.wg.Add(1)
	go d.serve()
	return d
}

// Close stops the request goroutine.
func (d *Device) Close() {
	close(d.quit)
	d.wg.Wait()
}

func (d *Device) Read(off uint64, size int) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if off >= REG_CONFIG {
		// capacity, in sectors, is the only config field
		var cfg [8]byte
		binary.LittleEndian.PutUint64(cfg[:], uint64(d.disk.Size()/SectorSize))
		o := off - REG_CONFIG
		if o+uint64(size) > uint64(len(cfg)) {
			return 0, nil
		}
		return cpu.UnpackUint(binary.LittleEndian, size, cfg[o:o+uint64(size)])
	}
	if size != 4 {
		return 0, errors.Errorf("%d byte read of register %#x", size, off)
	}
	switch off {
	case REG_MAGIC:
		return MAGIC, nil
	case REG_VERSION:
		return VERSION_LEGACY, nil
	case REG_DEVICE_ID:
		return DEVICE_ID_BLK, nil
	case REG_VENDOR_ID:
		return 0x554d4551, nil
	case REG_DEVICE_FEATURES:
		return 0, nil
	case REG_QUEUE_NUM_MAX:
		if d.queueSel != 0 {
			return 0, nil
		}
		return QueueNumMax, nil
	case REG_QUEUE_PFN:
		return uint64(d.queuePFN), nil
	case REG_INTERRUPT_STATUS:
		return uint64(d.intStatus), nil
	case REG_STATUS:
		return uint64(d.status), nil
	}
	return 0, nil
}

func (d *Device) Write(off uint64, size int, val uint64) error {
	if size != 4 {
		return errors.Errorf("%d byte write of register %#x", size, off)
	}
	v := uint32(val)
	d.mu.Lock()
	defer d.mu.Unlock()
	switch off {
	case REG_DRIVER_FEATURES:
		d.driverFeatures = v
	case REG_GUEST_PAGE_SIZE:
		d.guestPageSize = v
	case REG_QUEUE_SEL:
		d.queueSel = v
	case REG_QUEUE_NUM:
		if v > QueueNumMax || v&(v-1) != 0 {
			return errors.Errorf("bad queue size %d", v)
		}
		d.queueNum = v
	case REG_QUEUE_ALIGN:
		d.queueAlign = v
	case REG_QUEUE_PFN:
		d.queuePFN = v
		d.lastAvail, d.usedIdx = 0, 0
	case REG_QUEUE_NOTIFY:
		if d.status&STATUS_DRIVER_OK == 0 {
			d.log.Warn("virtio-blk: notify before DRIVER_OK")
			return nil
		}
		select {
		case d.kick <- struct{}{}:
		default:
		}
	case REG_INTERRUPT_ACK:
		d.intStatus &^= v
	case REG_STATUS:
		if v == 0 {
			d.reset()
		} else {
			d.status = v
		}
	}
	return nil
}

func (d *Device) reset() {
	d.status = 0
	d.driverFeatures = 0
	d.queuePFN = 0
	d.queueNum = 0
	d.lastAvail, d.usedIdx = 0, 0
	d.intStatus = 0
}

func (d *Device) serve() {
	defer d.wg.Done()
	for {
		select {
		case <-d.quit:
			return
		case <-d.kick:
			d.process()
		}
	}
}

// queue returns the queue geometry, or ok=false if no queue is set up.
func (d *Device) queue() (base, avail, used, n uint32, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queuePFN == 0 || d.queueNum == 0 {
		return 0, 0, 0, 0, false
	}
	pageSize, align := d.guestPageSize, d.queueAlign
	if pageSize == 0 {
		pageSize = PageSize
	}
	if align == 0 {
		align = PageSize
	}
	n = d.queueNum
	avail, used, _ = queueLayout(n, align)
	return d.queuePFN * pageSize, avail, used, n, true
}

func (d *Device) read16(addr uint32) uint16 {
	v, _ := d.bus.ReadUint(uint64(addr), 2, cpu.MEM_READ)
	return uint16(v)
}

func (d *Device) desc(base, i uint32) (VirtQDesc, error) {
	var desc VirtQDesc
	raw, err := d.bus.MemRead(uint64(base+i*descSize), descSize)
	if err != nil {
		return desc, err
	}
	err = struc.UnpackWithOrder(bytes.NewReader(raw), &desc, binary.LittleEndian)
	return desc, err
}

// process serves every chain the driver has made available.
func (d *Device) process() {
	base, availOff, usedOff, n, ok := d.queue()
	if !ok {
		return
	}
	availIdx := d.read16(base + availOff + 2)
	for {
		d.mu.Lock()
		last := d.lastAvail
		d.mu.Unlock()
		if last == availIdx {
			return
		}
		head := d.read16(base + availOff + 4 + 2*(uint32(last)%n))
		written := d.request(base, uint32(head)%n)

		d.mu.Lock()
		slot := uint32(d.usedIdx) % n
		d.bus.WriteUint(uint64(base+usedOff+4+slot*usedSize), 4, uint64(head))
		d.bus.WriteUint(uint64(base+usedOff+4+slot*usedSize+4), 4, uint64(written))
		d.usedIdx++
		d.lastAvail++
		d.bus.WriteUint(uint64(base+usedOff+2), 2, uint64(d.usedIdx))
		d.intStatus |= 1
		d.mu.Unlock()
	}
}

// request executes one header/data/status chain and returns the number of
// bytes written to guest memory.
func (d *Device) request(base, head uint32) uint32 {
	hdrDesc, err := d.desc(base, head)
	if err != nil || hdrDesc.Flags&VIRTQ_DESC_F_NEXT == 0 || hdrDesc.Len < headerSize {
		d.log.Error("virtio-blk: malformed request header", "head", head)
		return 0
	}
	dataDesc, err := d.desc(base, uint32(hdrDesc.Next))
	if err != nil || dataDesc.Flags&VIRTQ_DESC_F_NEXT == 0 {
		d.log.Error("virtio-blk: malformed data descriptor", "head", head)
		return 0
	}
	statusDesc, err := d.desc(base, uint32(dataDesc.Next))
	if err != nil || statusDesc.Flags&VIRTQ_DESC_F_WRITE == 0 || statusDesc.Len < 1 {
		d.log.Error("virtio-blk: malformed status descriptor", "head", head)
		return 0
	}
	raw, err := d.bus.MemRead(hdrDesc.Addr, headerSize)
	if err != nil {
		return 0
	}
	var hdr BlkReqHeader
	if err := struc.UnpackWithOrder(bytes.NewReader(raw), &hdr, binary.LittleEndian); err != nil {
		return 0
	}

	status := uint8(BLK_S_OK)
	written := uint32(1)
	off := int64(hdr.Sector) * SectorSize
	buf := make([]byte, dataDesc.Len)
	switch {
	case off+int64(len(buf)) > d.disk.Size():
		status = BLK_S_IOERR
	case hdr.Type == BLK_T_IN:
		if dataDesc.Flags&VIRTQ_DESC_F_WRITE == 0 {
			status = BLK_S_IOERR
		} else if _, err := d.disk.ReadAt(buf, off); err != nil {
			d.log.Error("virtio-blk: disk read failed", "sector", hdr.Sector, "err", err)
			status = BLK_S_IOERR
		} else if err := d.bus.MemWrite(dataDesc.Addr, buf); err != nil {
			status = BLK_S_IOERR
		} else {
			written += dataDesc.Len
		}
	case hdr.Type == BLK_T_OUT:
		if err := d.bus.MemReadInto(buf, dataDesc.Addr); err != nil {
			status = BLK_S_IOERR
		} else if _, err := d.disk.WriteAt(buf, off); err != nil {
			d.log.Error("virtio-blk: disk write failed", "sector", hdr.Sector, "err", err)
			status = BLK_S_IOERR
		}
	default:
		status = BLK_S_UNSUPP
	}
	d.bus.WriteUint(statusDesc.Addr, 1, uint64(status))
	return written
}
