package cpu

// these errors are reported by *MemError
const (
	MEM_READ_UNMAPPED  = 19
	MEM_WRITE_UNMAPPED = 20
	MEM_FETCH_UNMAPPED = 21
	MEM_WRITE_PROT     = 12
	MEM_READ_PROT      = 13
	MEM_FETCH_PROT     = 14
	MEM_DEVICE         = 22
)

// these constants describe the type of memory access
const (
	MEM_WRITE = 16
	MEM_READ  = 17
	MEM_FETCH = 18
)

// unmappedEnum picks the MEM_*_UNMAPPED error for an access type
func unmappedEnum(access int) int {
	switch access {
	case MEM_WRITE:
		return MEM_WRITE_UNMAPPED
	case MEM_FETCH:
		return MEM_FETCH_UNMAPPED
	default:
		return MEM_READ_UNMAPPED
	}
}
