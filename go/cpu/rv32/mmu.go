package rv32

import (
	"github.com/tinyrv/rvkern/go/models/cpu"
)

// access kinds for translate
const (
	accFetch = iota
	accLoad
	accStore
)

func pageFault(acc int) uint32 {
	switch acc {
	case accFetch:
		return CauseInsnPageFault
	case accStore:
		return CauseStorePageFault
	default:
		return CauseLoadPageFault
	}
}

func accessFault(acc int) uint32 {
	switch acc {
	case accFetch:
		return CauseInsnAccess
	case accStore:
		return CauseStoreAccess
	default:
		return CauseLoadAccess
	}
}

// exception is a synchronous trap raised while executing one instruction.
type exception struct {
	cause uint32
	tval  uint32
}

// translate walks the Sv32 tables rooted at satp. The hart sets the A and D
// bits itself instead of faulting on them.
func (h *Hart) translate(va uint32, acc int) (uint32, *exception) {
	if h.satp&SATP_SV32 == 0 {
		return va, nil
	}
	fault := &exception{cause: pageFault(acc), tval: va}
	table := uint64(h.satp&SATP_PPN_MASK) * PageSize
	vpn := [2]uint32{(va >> 12) & 0x3ff, (va >> 22) & 0x3ff}
	for level := 1; level >= 0; level-- {
		pteAddr := table + uint64(vpn[level])*4
		raw, err := h.bus.ReadUint(pteAddr, 4, cpu.MEM_READ)
		if err != nil {
			return 0, &exception{cause: accessFault(acc), tval: va}
		}
		pte := uint32(raw)
		if pte&PTE_V == 0 || (pte&PTE_R == 0 && pte&PTE_W != 0) {
			return 0, fault
		}
		if pte&(PTE_R|PTE_X) == 0 {
			// pointer to the next level
			if level == 0 {
				return 0, fault
			}
			table = uint64(pte>>10) * PageSize
			continue
		}
		// leaf
		switch acc {
		case accFetch:
			if pte&PTE_X == 0 {
				return 0, fault
			}
		case accLoad:
			if pte&PTE_R == 0 {
				return 0, fault
			}
		case accStore:
			if pte&PTE_W == 0 {
				return 0, fault
			}
		}
		if h.priv == PrivU && pte&PTE_U == 0 {
			return 0, fault
		}
		ppn := pte >> 10
		if level == 1 && ppn&0x3ff != 0 {
			// misaligned superpage
			return 0, fault
		}
		update := pte | PTE_A
		if acc == accStore {
			update |= PTE_D
		}
		if update != pte {
			h.bus.WriteUint(pteAddr, 4, uint64(update))
		}
		if level == 1 {
			return (ppn>>10)<<22 | va&0x3fffff, nil
		}
		return ppn<<12 | va&0xfff, nil
	}
	return 0, fault
}

func (h *Hart) load(va uint32, size int) (uint32, *exception) {
	if int(va&0xfff)+size <= PageSize {
		pa, exc := h.translate(va, accLoad)
		if exc != nil {
			return 0, exc
		}
		val, err := h.bus.ReadUint(uint64(pa), size, cpu.MEM_READ)
		if err != nil {
			return 0, &exception{cause: CauseLoadAccess, tval: va}
		}
		return uint32(val), nil
	}
	// page-crossing access, one byte at a time
	var val uint32
	for i := 0; i < size; i++ {
		b, exc := h.load(va+uint32(i), 1)
		if exc != nil {
			return 0, exc
		}
		val |= b << (8 * i)
	}
	return val, nil
}

func (h *Hart) store(va uint32, size int, val uint32) *exception {
	if int(va&0xfff)+size <= PageSize {
		pa, exc := h.translate(va, accStore)
		if exc != nil {
			return exc
		}
		if err := h.bus.WriteUint(uint64(pa), size, uint64(val)); err != nil {
			return &exception{cause: CauseStoreAccess, tval: va}
		}
		return nil
	}
	for i := 0; i < size; i++ {
		if exc := h.store(va+uint32(i), 1, val>>(8*i)); exc != nil {
			return exc
		}
	}
	return nil
}

func (h *Hart) fetch(va uint32) (uint32, *exception) {
	pa, exc := h.translate(va, accFetch)
	if exc != nil {
		return 0, exc
	}
	val, err := h.bus.ReadUint(uint64(pa), 4, cpu.MEM_FETCH)
	if err != nil {
		return 0, &exception{cause: CauseInsnAccess, tval: va}
	}
	return uint32(val), nil
}
