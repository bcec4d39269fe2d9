// Package palloc hands out physical pages from the free-RAM region with a
// bump cursor. Pages are zero-filled and never freed.
package palloc

import (
	"github.com/pkg/errors"

	"github.com/tinyrv/rvkern/go/models/cpu"
)

const PageSize = 4096

var (
	ErrOutOfMemory = errors.New("out of memory")
	ErrOverflow    = errors.New("allocation overflows the address space")
)

type Allocator struct {
	bus        *cpu.Bus
	start, end uint32
	next       uint32
}

func New(bus *cpu.Bus, start, end uint32) *Allocator {
	return &Allocator{bus: bus, start: start, end: end, next: start}
}

// Alloc reserves n contiguous zeroed pages and returns the first address.
func (a *Allocator) Alloc(n uint32) (uint32, error) {
	if n == 0 {
		return 0, errors.New("zero page allocation")
	}
	size := uint64(n) * PageSize
	end := uint64(a.next) + size
	if size>>32 != 0 || end>>32 != 0 {
		return 0, errors.Wrapf(ErrOverflow, "%d pages at %#x", n, a.next)
	}
	if end > uint64(a.end) {
		return 0, errors.Wrapf(ErrOutOfMemory, "%d pages at %#x, free ram ends at %#x", n, a.next, a.end)
	}
	paddr := a.next
	if err := a.bus.Zero(uint64(paddr), size); err != nil {
		return 0, errors.Wrap(err, "zeroing pages")
	}
	a.next = uint32(end)
	return paddr, nil
}

func (a *Allocator) Used() uint32      { return a.next - a.start }
func (a *Allocator) Remaining() uint32 { return a.end - a.next }
