// Package sv32 builds and walks two-level Sv32 page tables in physical
// memory.
package sv32

import (
	"github.com/pkg/errors"

	"github.com/tinyrv/rvkern/go/cpu/rv32"
	"github.com/tinyrv/rvkern/go/models/cpu"
)

const (
	PageSize  = rv32.PageSize
	PermMask  = rv32.PTE_V | rv32.PTE_R | rv32.PTE_W | rv32.PTE_X | rv32.PTE_U
	entrySize = 4
)

var (
	ErrUnaligned = errors.New("address not page aligned")
	ErrNotMapped = errors.New("page not mapped")
	ErrPerm      = errors.New("page permission denied")
)

type PTE uint32

func MakePTE(pa, flags uint32) PTE {
	return PTE((pa/PageSize)<<10 | flags)
}

func (p PTE) Valid() bool { return p&rv32.PTE_V != 0 }

// Leaf reports whether the entry maps memory rather than pointing at the
// next level.
func (p PTE) Leaf() bool { return p&(rv32.PTE_R|rv32.PTE_X) != 0 }

// Perm returns the V R W X U bits, dropping the A and D bits the hart sets.
func (p PTE) Perm() uint32 { return uint32(p) & PermMask }

func (p PTE) PPN() uint32 { return uint32(p) >> 10 }
func (p PTE) PA() uint32  { return p.PPN() * PageSize }

// Allocator supplies zeroed physical pages for leaf tables.
type Allocator interface {
	Alloc(n uint32) (uint32, error)
}

type Mapper struct {
	bus   *cpu.Bus
	alloc Allocator
}

func New(bus *cpu.Bus, alloc Allocator) *Mapper {
	return &Mapper{bus: bus, alloc: alloc}
}

func vpn1(va uint32) uint32 { return (va >> 22) & 0x3ff }
func vpn0(va uint32) uint32 { return (va >> 12) & 0x3ff }

func (m *Mapper) read(addr uint32) (PTE, error) {
	v, err := m.bus.ReadUint(uint64(addr), entrySize, cpu.MEM_READ)
	return PTE(v), err
}

func (m *Mapper) write(addr uint32, pte PTE) error {
	return m.bus.WriteUint(uint64(addr), entrySize, uint64(pte))
}

// NewTable allocates an empty root table.
func (m *Mapper) NewTable() (uint32, error) {
	return m.alloc.Alloc(1)
}

// Map installs va -> pa with flags|V, allocating the leaf table on first use
// of a root slot.
func (m *Mapper) Map(root, va, pa, flags uint32) error {
	if va%PageSize != 0 {
		return errors.Wrapf(ErrUnaligned, "va %#x", va)
	}
	if pa%PageSize != 0 {
		return errors.Wrapf(ErrUnaligned, "pa %#x", pa)
	}
	slot := root + vpn1(va)*entrySize
	pte, err := m.read(slot)
	if err != nil {
		return errors.Wrap(err, "reading root table")
	}
	if !pte.Valid() {
		leaf, err := m.alloc.Alloc(1)
		if err != nil {
			return errors.Wrap(err, "allocating leaf table")
		}
		pte = MakePTE(leaf, rv32.PTE_V)
		if err := m.write(slot, pte); err != nil {
			return err
		}
	} else if pte.Leaf() {
		return errors.Errorf("va %#x is covered by a superpage", va)
	}
	return m.write(pte.PA()+vpn0(va)*entrySize, MakePTE(pa, flags|rv32.PTE_V))
}

// MapRange maps size bytes starting at va to consecutive pages at pa.
func (m *Mapper) MapRange(root, va, pa, size, flags uint32) error {
	for off := uint32(0); off < size; off += PageSize {
		if err := m.Map(root, va+off, pa+off, flags); err != nil {
			return err
		}
	}
	return nil
}

// Walk returns the leaf entry for va.
func (m *Mapper) Walk(root, va uint32) (PTE, error) {
	pte, _, err := m.walk(root, va)
	return pte, err
}

// walk also reports the span of the leaf, PageSize or a 4MiB superpage.
func (m *Mapper) walk(root, va uint32) (PTE, uint32, error) {
	pte, err := m.read(root + vpn1(va)*entrySize)
	if err != nil {
		return 0, 0, err
	}
	if !pte.Valid() {
		return 0, 0, errors.Wrapf(ErrNotMapped, "va %#x", va)
	}
	if pte.Leaf() {
		return pte, PageSize << 10, nil
	}
	leaf, err := m.read(pte.PA() + vpn0(va)*entrySize)
	if err != nil {
		return 0, 0, err
	}
	if !leaf.Valid() || !leaf.Leaf() {
		return 0, 0, errors.Wrapf(ErrNotMapped, "va %#x", va)
	}
	return leaf, PageSize, nil
}

// Translate resolves va, requiring every bit of need to be set on the leaf.
func (m *Mapper) Translate(root, va, need uint32) (uint32, error) {
	pte, span, err := m.walk(root, va)
	if err != nil {
		return 0, err
	}
	if pte.Perm()&need != need {
		return 0, errors.Wrapf(ErrPerm, "va %#x has %#x, need %#x", va, pte.Perm(), need)
	}
	return pte.PA() + va%span, nil
}

// copyUser moves len(p) bytes between p and user memory at va, one page at a
// time. Every page must be mapped with need.
func (m *Mapper) copyUser(root, va uint32, p []byte, need uint32, out bool) error {
	if uint64(va)+uint64(len(p)) > 1<<32 {
		return errors.Wrapf(ErrNotMapped, "buffer at %#x wraps", va)
	}
	for len(p) > 0 {
		pa, err := m.Translate(root, va, need)
		if err != nil {
			return err
		}
		n := PageSize - va%PageSize
		if n > uint32(len(p)) {
			n = uint32(len(p))
		}
		if out {
			err = m.bus.MemWrite(uint64(pa), p[:n])
		} else {
			err = m.bus.MemReadInto(p[:n], uint64(pa))
		}
		if err != nil {
			return err
		}
		p = p[n:]
		va += n
	}
	return nil
}

// CopyIn reads user memory. Pages must be user readable.
func (m *Mapper) CopyIn(root, va uint32, p []byte) error {
	return m.copyUser(root, va, p, rv32.PTE_U|rv32.PTE_R, false)
}

// CopyOut writes user memory. Pages must be user writable.
func (m *Mapper) CopyOut(root, va uint32, p []byte) error {
	return m.copyUser(root, va, p, rv32.PTE_U|rv32.PTE_W, true)
}

// CopyInString reads a NUL terminated string of at most max bytes.
func (m *Mapper) CopyInString(root, va uint32, max int) (string, error) {
	var out []byte
	var b [1]byte
	for i := 0; i < max; i++ {
		if err := m.CopyIn(root, va+uint32(i), b[:]); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(out), nil
		}
		out = append(out, b[0])
	}
	return "", errors.Errorf("string at %#x longer than %d bytes", va, max)
}
