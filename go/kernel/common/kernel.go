package common

import (
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lunixbochs/argjoy"
	"github.com/pkg/errors"
)

// UserMem is the address space of the process making a system call.
type UserMem interface {
	CopyIn(va uint32, p []byte) error
	CopyOut(va uint32, p []byte) error
	CopyInString(va uint32, max int) (string, error)
}

// PathMax bounds string arguments read from user memory.
const PathMax = 100

// KernelBase discovers the exported methods of the embedding kernel and
// exposes them as system calls named in snake case, so FileRead becomes
// "file_read". Numbers are attached with Bind.
type KernelBase struct {
	Syscalls map[string]Syscall
	Numbers  map[uint32]string
	// Mem is the caller's address space for the call in progress.
	Mem    UserMem
	Argjoy argjoy.Argjoy
}

func (k *KernelBase) SyscallKernel() *KernelBase {
	return k
}

type Kernel interface {
	SyscallKernel() *KernelBase
}

func camelToSnakeCase(name string) string {
	var words []string
	last := 0
	for i, c := range name {
		if unicode.IsUpper(c) {
			if i > 0 {
				words = append(words, name[last:i])
			}
			last = i
		}
	}
	words = append(words, name[last:])
	return strings.ToLower(strings.Join(words, "_"))
}

var baseType = reflect.TypeOf(&KernelBase{})

// Init builds the syscall table from the methods of kf. Methods whose name
// starts with "Literal" are registered without the prefix, which lets a
// kernel expose a call whose name collides with a Go method it needs.
func Init(kf Kernel) {
	k := kf.SyscallKernel()
	k.Syscalls = make(map[string]Syscall)
	k.Numbers = make(map[uint32]string)
	instance := reflect.ValueOf(kf)
	typ := instance.Type()
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		name := method.Name
		if _, ok := baseType.MethodByName(name); ok {
			// promoted from KernelBase
			continue
		}
		if strings.HasPrefix(name, "Literal") {
			name = strings.Replace(name, "Literal", "", 1)
		} else if r, size := utf8.DecodeRuneInString(name); size <= 0 || !unicode.IsUpper(r) {
			continue
		}
		name = camelToSnakeCase(name)
		in := make([]reflect.Type, method.Type.NumIn()-1)
		for j := 1; j < method.Type.NumIn(); j++ {
			in[j-1] = method.Type.In(j)
		}
		out := make([]reflect.Type, method.Type.NumOut())
		for j := 0; j < method.Type.NumOut(); j++ {
			out[j] = method.Type.Out(j)
		}
		k.Syscalls[name] = Syscall{
			Name:     name,
			Kernel:   k,
			Instance: instance,
			Method:   method,
			In:       in,
			Out:      out,
		}
	}
	k.Argjoy.Register(k.commonArgCodec)
	k.Argjoy.Register(argjoy.IntToInt)
}

// Bind attaches a number to a discovered syscall.
func (k *KernelBase) Bind(num uint32, name string) error {
	if _, ok := k.Syscalls[name]; !ok {
		return errors.Errorf("no handler for syscall %q", name)
	}
	if prev, ok := k.Numbers[num]; ok {
		return errors.Errorf("syscall %d already bound to %q", num, prev)
	}
	k.Numbers[num] = name
	return nil
}

// Lookup returns the syscall bound to num, or nil.
func (k *KernelBase) Lookup(num uint32) *Syscall {
	name, ok := k.Numbers[num]
	if !ok {
		return nil
	}
	sys := k.Syscalls[name]
	return &sys
}
