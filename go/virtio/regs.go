// Package virtio drives a legacy virtio-mmio block device and provides the
// board-side model of one.
package virtio

// MMIO register offsets, legacy (version 1) layout
const (
	REG_MAGIC            = 0x000
	REG_VERSION          = 0x004
	REG_DEVICE_ID        = 0x008
	REG_VENDOR_ID        = 0x00c
	REG_DEVICE_FEATURES  = 0x010
	REG_DRIVER_FEATURES  = 0x020
	REG_GUEST_PAGE_SIZE  = 0x028
	REG_QUEUE_SEL        = 0x030
	REG_QUEUE_NUM_MAX    = 0x034
	REG_QUEUE_NUM        = 0x038
	REG_QUEUE_ALIGN      = 0x03c
	REG_QUEUE_PFN        = 0x040
	REG_QUEUE_NOTIFY     = 0x050
	REG_INTERRUPT_STATUS = 0x060
	REG_INTERRUPT_ACK    = 0x064
	REG_STATUS           = 0x070
	REG_CONFIG           = 0x100

	WindowSize = 0x1000
)

const (
	MAGIC          = 0x74726976 // "virt"
	VERSION_LEGACY = 1
	DEVICE_ID_BLK  = 2
)

// device status bits
const (
	STATUS_ACK       = 1
	STATUS_DRIVER    = 2
	STATUS_DRIVER_OK = 4
	STATUS_FEAT_OK   = 8
)

const (
	VIRTQ_DESC_F_NEXT  = 1
	VIRTQ_DESC_F_WRITE = 2
)

// block request types and completion status
const (
	BLK_T_IN  = 0
	BLK_T_OUT = 1

	BLK_S_OK     = 0
	BLK_S_IOERR  = 1
	BLK_S_UNSUPP = 2

	// written by the driver before each request
	statusPending = 0xff
)

const (
	SectorSize = 512
	PageSize   = 4096
)

// VirtQDesc is one entry of the descriptor table.
type VirtQDesc struct {
	Addr  uint64
	Len   uint32
	Flags uint16
	Next  uint16
}

// VirtQUsedElem is one entry of the used ring.
type VirtQUsedElem struct {
	ID  uint32
	Len uint32
}

// BlkReqHeader is the device-readable head of a block request.
type BlkReqHeader struct {
	Type     uint32
	Reserved uint32
	Sector   uint64
}

const (
	descSize   = 16
	headerSize = 16
	usedSize   = 8
	// header, data, status byte
	reqSize = headerSize + SectorSize + 1
)

func alignUp(v, align uint32) uint32 {
	return (v + align - 1) / align * align
}

// queueLayout gives the offsets of the avail and used rings of an n entry
// queue and its total size.
func queueLayout(n, align uint32) (avail, used, size uint32) {
	avail = n * descSize
	used = alignUp(avail+4+2*n, align)
	size = alignUp(used+4+usedSize*n, align)
	return
}
