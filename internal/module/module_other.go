//go:build !linux && !windows

package module

import (
	"fmt"
	"runtime"
)

func Resolve(name string) (Module, error) {
	return Module{}, fmt.Errorf("%w: %s: not supported on %s", ErrNotLoaded, name, runtime.GOOS)
}

func Containing(addr uintptr) (Module, error) {
	return Module{}, fmt.Errorf("%w: %#x: not supported on %s", ErrNotLoaded, addr, runtime.GOOS)
}
