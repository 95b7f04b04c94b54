//go:build windows

package pacer

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modntdll = windows.NewLazySystemDLL("ntdll.dll")

	procNtQueryTimerResolution = modntdll.NewProc("NtQueryTimerResolution")
	procNtSetTimerResolution   = modntdll.NewProc("NtSetTimerResolution")
	procNtDelayExecution       = modntdll.NewProc("NtDelayExecution")
)

type ntTimer struct{}

// SystemTimer returns the NT timer: NtDelayExecution waits, with the global
// timer resolution controlled through NtSetTimerResolution.
func SystemTimer() TimerDevice {
	return ntTimer{}
}

func (ntTimer) Query() (maximum, minimum, current Units, err error) {
	var coarsest, finest, active uint32
	r1, _, _ := procNtQueryTimerResolution.Call(
		uintptr(unsafe.Pointer(&coarsest)),
		uintptr(unsafe.Pointer(&finest)),
		uintptr(unsafe.Pointer(&active)),
	)
	if r1 != 0 {
		return 0, 0, 0, fmt.Errorf("NtQueryTimerResolution: NTSTATUS %#x", r1)
	}
	return Units(coarsest), Units(finest), Units(active), nil
}

func (ntTimer) Set(u Units) (Units, error) {
	var cur uint32
	r1, _, _ := procNtSetTimerResolution.Call(uintptr(u), 1, uintptr(unsafe.Pointer(&cur)))
	if r1 != 0 {
		return Units(cur), fmt.Errorf("NtSetTimerResolution: NTSTATUS %#x", r1)
	}
	return Units(cur), nil
}

func (ntTimer) Wait(u Units) {
	if u <= 0 {
		return
	}
	// Negative intervals are relative.
	interval := -int64(u)
	procNtDelayExecution.Call(0, uintptr(unsafe.Pointer(&interval)))
}
