package common

import (
	"fmt"
	"strings"

	"github.com/tinyrv/rvkern/go/models"
)

const traceStrsize = 32

func hex(a interface{}) string {
	tmp := fmt.Sprintf("0x%x", a)
	if strings.HasPrefix(tmp, "0x-") {
		tmp = "-0x" + tmp[3:]
	}
	return tmp
}

func (s Syscall) traceArg(args ...interface{}) string {
	switch arg := args[0].(type) {
	case Obuf:
		return hex(arg.Addr)
	case Buf:
		if len(args) > 1 {
			if length, ok := args[1].(Len); ok {
				n := uint32(length)
				if n > traceStrsize {
					n = traceStrsize
				}
				mem := make([]byte, n)
				if arg.Read(mem) == nil {
					return models.Repr(mem, traceStrsize)
				}
			}
		}
		return hex(arg.Addr)
	case Char:
		return models.Repr([]byte{byte(arg)}, 0)
	case Len:
		return fmt.Sprintf("%d", uint32(arg))
	case string:
		return models.Repr([]byte(arg), traceStrsize)
	case uint64, uint32:
		return hex(arg)
	default:
		return fmt.Sprintf("%v", arg)
	}
}

// Trace renders the call with decoded arguments, e.g. file_read("a.txt", 0x1000200, 64).
func (s Syscall) Trace(regs []uint64) string {
	inRef, err := s.Kernel.Argjoy.Convert(s.In, false, regs)
	if err != nil {
		return fmt.Sprintf("%s(%s)", s.Name, err)
	}
	in := make([]interface{}, len(inRef))
	for i, val := range inRef {
		in[i] = val.Interface()
	}
	ret := make([]string, len(in))
	for i := range in {
		ret[i] = s.traceArg(in[i:]...)
	}
	return fmt.Sprintf("%s(%s)", s.Name, strings.Join(ret, ", "))
}
