//go:build windows

package hotpatch

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var procSuspendThread = windows.NewLazySystemDLL("kernel32.dll").NewProc("SuspendThread")

type windowsThreads struct{}

// SystemThreads returns a ThreadSource backed by the Toolhelp snapshot API.
func SystemThreads() ThreadSource {
	return windowsThreads{}
}

func (windowsThreads) Threads() ([]uint32, error) {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPTHREAD, 0)
	if err != nil {
		return nil, err
	}
	defer windows.CloseHandle(snapshot)

	pid := windows.GetCurrentProcessId()

	var te32 windows.ThreadEntry32
	te32.Size = uint32(unsafe.Sizeof(te32))
	if err := windows.Thread32First(snapshot, &te32); err != nil {
		return nil, err
	}

	var ids []uint32
	for {
		if te32.OwnerProcessID == pid {
			ids = append(ids, te32.ThreadID)
		}

		if err := windows.Thread32Next(snapshot, &te32); err != nil {
			if err == windows.ERROR_NO_MORE_FILES {
				break
			}
			return nil, err
		}
	}
	return ids, nil
}

func (windowsThreads) Current() uint32 {
	return windows.GetCurrentThreadId()
}

func (windowsThreads) Suspend(id uint32) error {
	h, err := windows.OpenThread(windows.THREAD_SUSPEND_RESUME, false, id)
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)

	r1, _, err := procSuspendThread.Call(uintptr(h))
	if r1 == 0xffffffff {
		return fmt.Errorf("SuspendThread: %w", err)
	}
	return nil
}

func (windowsThreads) Resume(id uint32) error {
	h, err := windows.OpenThread(windows.THREAD_SUSPEND_RESUME, false, id)
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)

	if _, err := windows.ResumeThread(h); err != nil {
		return fmt.Errorf("ResumeThread: %w", err)
	}
	return nil
}
