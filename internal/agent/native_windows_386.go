package agent

import (
	"sync"
	"syscall"
)

var invokerMu sync.Mutex

// export returns a thiscall entry point for fn, which takes the object pointer
// followed by stackArgs arguments.
func (n *nativeABI) export(fn any, stackArgs int) (uintptr, error) {
	invokerMu.Lock()
	defer invokerMu.Unlock()

	if n.invoker == 0 {
		addr, err := n.place(thiscallInvoker)
		if err != nil {
			return 0, err
		}
		n.invoker = addr
	}

	code, err := thiscallEntry(uint32(syscall.NewCallback(fn)), stackArgs)
	if err != nil {
		return 0, err
	}
	return n.place(code)
}

// thiscall calls fn with this in ECX and args on the stack.
func (n *nativeABI) thiscall(fn, this uintptr, args ...uintptr) uintptr {
	r, _, _ := syscall.SyscallN(n.invoker, append([]uintptr{fn, this}, args...)...)
	return r
}

// cdecl calls fn without arguments.
func (n *nativeABI) cdecl(fn uintptr) uintptr {
	r, _, _ := syscall.SyscallN(fn)
	return r
}
