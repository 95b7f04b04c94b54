//go:build !linux && !windows

package hotpatch

import (
	"fmt"
	"runtime"
)

type unsupportedThreads struct{}

// SystemThreads returns a ThreadSource that can't list threads, so
// Quiescer.Do runs batches without suspending anything.
func SystemThreads() ThreadSource {
	return unsupportedThreads{}
}

func (unsupportedThreads) Threads() ([]uint32, error) {
	return nil, fmt.Errorf("listing threads is not supported on %s", runtime.GOOS)
}

func (unsupportedThreads) Current() uint32 { return 0 }

func (unsupportedThreads) Suspend(uint32) error { return ErrSuspendUnsupported }

func (unsupportedThreads) Resume(uint32) error { return ErrSuspendUnsupported }
