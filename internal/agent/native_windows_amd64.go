package agent

import "syscall"

// export returns an entry point for fn. On 64-bit Windows there is one
// calling convention and the object pointer is an ordinary first argument.
func (n *nativeABI) export(fn any, _ int) (uintptr, error) {
	return syscall.NewCallback(fn), nil
}

func (n *nativeABI) thiscall(fn, this uintptr, args ...uintptr) uintptr {
	r, _, _ := syscall.SyscallN(fn, append([]uintptr{this}, args...)...)
	return r
}

func (n *nativeABI) cdecl(fn uintptr) uintptr {
	r, _, _ := syscall.SyscallN(fn)
	return r
}
