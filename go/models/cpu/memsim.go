package cpu

import (
	"fmt"
	"sort"
)

type MemError struct {
	Addr uint64
	Size int
	Enum int
}

func (m *MemError) Error() string {
	reason := "memory error"
	switch m.Enum {
	case MEM_WRITE_UNMAPPED:
		reason = "unmapped write"
	case MEM_READ_UNMAPPED:
		reason = "unmapped read"
	case MEM_FETCH_UNMAPPED:
		reason = "unmapped fetch"
	case MEM_WRITE_PROT:
		reason = "protected write"
	case MEM_READ_PROT:
		reason = "protected read"
	case MEM_FETCH_PROT:
		reason = "protected exec"
	case MEM_DEVICE:
		reason = "device error"
	}
	return fmt.Sprintf("%s at %#x(%d)", reason, m.Addr, m.Size)
}

// a single MMIO window on the bus
type region struct {
	Addr uint64
	Size uint64
	Dev  Device
	Desc string
}

func (r *region) Contains(addr uint64) bool {
	return addr >= r.Addr && addr < r.Addr+r.Size
}

func (r *region) Overlaps(addr, size uint64) bool {
	return addr < r.Addr+r.Size && r.Addr < addr+size
}

func (r *region) String() string {
	return fmt.Sprintf("0x%x-0x%x [%s]", r.Addr, r.Addr+r.Size, r.Desc)
}

type regions []*region

func (p regions) Len() int           { return len(p) }
func (p regions) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
func (p regions) Less(i, j int) bool { return p[i].Addr < p[j].Addr }

func (p *regions) insert(r *region) {
	*p = append(*p, r)
	sort.Sort(*p)
}

// binary search to find the region containing addr, if any
func (p regions) find(addr uint64) *region {
	l := 0
	r := len(p) - 1
	for l <= r {
		mid := (l + r) / 2
		e := p[mid]
		if addr >= e.Addr {
			if addr < e.Addr+e.Size {
				return e
			}
			l = mid + 1
		} else {
			r = mid - 1
		}
	}
	return nil
}
