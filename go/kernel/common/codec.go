package common

import (
	"github.com/lunixbochs/argjoy"
	"github.com/pkg/errors"
)

func (k *KernelBase) commonArgCodec(arg interface{}, vals []interface{}) error {
	if reg, ok := vals[0].(uint64); ok {
		switch v := arg.(type) {
		case *Buf:
			*v = NewBuf(k, uint32(reg))
		case *Obuf:
			*v = Obuf{NewBuf(k, uint32(reg))}
		case *Len:
			*v = Len(reg)
		case *Char:
			*v = Char(reg)
		case *int32:
			// registers are 32 bits wide; sign extend from bit 31
			*v = int32(uint32(reg))
		case *string:
			if k.Mem == nil {
				return errors.New("no address space for string argument")
			}
			s, err := k.Mem.CopyInString(uint32(reg), PathMax)
			if err != nil {
				return err
			}
			*v = s
		default:
			return argjoy.NoMatch
		}
		return nil
	}
	return argjoy.NoMatch
}
