//go:build !linux && !windows

package hotpatch

import (
	"fmt"
	"runtime"
)

const (
	protRX  = 0x5
	protRWX = 0x7
)

func mappedRegions(start uintptr, length int) ([]region, error) {
	return nil, fmt.Errorf("reading memory protection is not supported on %s", runtime.GOOS)
}

func mprotect(start uintptr, length int, prot int) error {
	return fmt.Errorf("changing memory protection is not supported on %s", runtime.GOOS)
}
