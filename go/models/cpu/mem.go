package cpu

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
)

// Device is a memory-mapped peripheral. Offsets are relative to the start of
// the device's window on the bus.
type Device interface {
	Read(off uint64, size int) (uint64, error)
	Write(off uint64, size int, val uint64) error
}

// Bus is the physical address space of the board: one RAM window plus any
// number of MMIO device windows.
//
// RAM accesses are serialised by mu. Devices running on their own goroutine
// go through the same Bus, so the lock doubles as the memory barrier between
// a driver publishing a ring entry and the device observing it.
type Bus struct {
	bits uint
	// methods return an error for addresses that do not fit inside mask
	mask  uint64
	order binary.ByteOrder

	mu      sync.Mutex
	ramBase uint64
	ram     []byte
	devs    regions
}

func NewBus(bits uint, order binary.ByteOrder, ramBase, ramSize uint64) *Bus {
	return &Bus{
		bits:    bits,
		mask:    ^uint64(0) >> (64 - bits),
		order:   order,
		ramBase: ramBase,
		ram:     make([]byte, ramSize),
	}
}

func (b *Bus) Bits() uint                  { return b.bits }
func (b *Bus) ByteOrder() binary.ByteOrder { return b.order }
func (b *Bus) RAMBase() uint64             { return b.ramBase }
func (b *Bus) RAMSize() uint64             { return uint64(len(b.ram)) }

// MapDevice attaches dev at addr. Windows may not overlap RAM or each other.
func (b *Bus) MapDevice(addr, size uint64, dev Device, desc string) error {
	if (addr+size)&b.mask != addr+size {
		return errors.New("region outside memory range")
	}
	if addr < b.ramBase+uint64(len(b.ram)) && b.ramBase < addr+size {
		return errors.Errorf("device %s overlaps RAM", desc)
	}
	for _, r := range b.devs {
		if r.Overlaps(addr, size) {
			return errors.Errorf("device %s overlaps %s", desc, r)
		}
	}
	b.devs.insert(&region{Addr: addr, Size: size, Dev: dev, Desc: desc})
	return nil
}

// InRAM reports whether [addr, addr+size) lies entirely in RAM.
func (b *Bus) InRAM(addr, size uint64) bool {
	end := addr + size
	return addr >= b.ramBase && end >= addr && end <= b.ramBase+uint64(len(b.ram))
}

// IsDevice reports whether addr falls in an MMIO window.
func (b *Bus) IsDevice(addr uint64) bool {
	return b.devs.find(addr) != nil
}

func (b *Bus) MemReadInto(p []byte, addr uint64) error {
	if !b.InRAM(addr, uint64(len(p))) {
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_READ_UNMAPPED}
	}
	b.mu.Lock()
	copy(p, b.ram[addr-b.ramBase:])
	b.mu.Unlock()
	return nil
}

func (b *Bus) MemRead(addr, size uint64) ([]byte, error) {
	p := make([]byte, size)
	if err := b.MemReadInto(p, addr); err != nil {
		return nil, err
	}
	return p, nil
}

func (b *Bus) MemWrite(addr uint64, p []byte) error {
	if !b.InRAM(addr, uint64(len(p))) {
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_WRITE_UNMAPPED}
	}
	b.mu.Lock()
	copy(b.ram[addr-b.ramBase:], p)
	b.mu.Unlock()
	return nil
}

// Zero clears [addr, addr+size) in RAM.
func (b *Bus) Zero(addr, size uint64) error {
	if !b.InRAM(addr, size) {
		return &MemError{Addr: addr, Size: int(size), Enum: MEM_WRITE_UNMAPPED}
	}
	b.mu.Lock()
	clear(b.ram[addr-b.ramBase : addr-b.ramBase+size])
	b.mu.Unlock()
	return nil
}

// ReadUint reads a naturally sized value from RAM or a device window.
// access selects the MEM_* kind reported on failure.
func (b *Bus) ReadUint(addr uint64, size, access int) (uint64, error) {
	if size > 8 {
		return 0, errors.Errorf("ReadUint size too large: %d > 8", size)
	}
	if b.InRAM(addr, uint64(size)) {
		var buf [8]byte
		b.mu.Lock()
		copy(buf[:size], b.ram[addr-b.ramBase:])
		b.mu.Unlock()
		return UnpackUint(b.order, size, buf[:size])
	}
	// device handlers run without the RAM lock, they may touch RAM themselves
	if r := b.devs.find(addr); r != nil {
		val, err := r.Dev.Read(addr-r.Addr, size)
		if err != nil {
			return 0, errors.Wrap(&MemError{Addr: addr, Size: size, Enum: MEM_DEVICE}, err.Error())
		}
		return val, nil
	}
	return 0, &MemError{Addr: addr, Size: size, Enum: unmappedEnum(access)}
}

func (b *Bus) WriteUint(addr uint64, size int, val uint64) error {
	var buf [8]byte
	if size > 8 {
		return errors.Errorf("WriteUint size too large: %d > 8", size)
	}
	if b.InRAM(addr, uint64(size)) {
		if _, err := PackUint(b.order, size, buf[:], val); err != nil {
			return err
		}
		b.mu.Lock()
		copy(b.ram[addr-b.ramBase:], buf[:size])
		b.mu.Unlock()
		return nil
	}
	if r := b.devs.find(addr); r != nil {
		if err := r.Dev.Write(addr-r.Addr, size, val); err != nil {
			return errors.Wrap(&MemError{Addr: addr, Size: size, Enum: MEM_DEVICE}, err.Error())
		}
		return nil
	}
	return &MemError{Addr: addr, Size: size, Enum: MEM_WRITE_UNMAPPED}
}
