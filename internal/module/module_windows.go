//go:build windows

package module

import (
	"fmt"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Resolve finds the loaded module named name. An empty name is the main
// executable. The module's reference count is left unchanged.
func Resolve(name string) (Module, error) {
	var namePtr *uint16
	if name != "" {
		p, err := windows.UTF16PtrFromString(name)
		if err != nil {
			return Module{}, err
		}
		namePtr = p
	}

	var h windows.Handle
	if err := windows.GetModuleHandleEx(windows.GET_MODULE_HANDLE_EX_FLAG_UNCHANGED_REFCOUNT, namePtr, &h); err != nil {
		return Module{}, fmt.Errorf("%w: %s: %w", ErrNotLoaded, name, err)
	}
	return fromHandle(h, name)
}

// Containing finds the loaded module holding addr.
func Containing(addr uintptr) (Module, error) {
	var h windows.Handle
	flags := uint32(windows.GET_MODULE_HANDLE_EX_FLAG_FROM_ADDRESS | windows.GET_MODULE_HANDLE_EX_FLAG_UNCHANGED_REFCOUNT)
	if err := windows.GetModuleHandleEx(flags, (*uint16)(unsafe.Pointer(addr)), &h); err != nil {
		return Module{}, fmt.Errorf("%w: %#x: %w", ErrNotLoaded, addr, err)
	}
	return fromHandle(h, "")
}

func fromHandle(h windows.Handle, name string) (Module, error) {
	var mi windows.ModuleInfo
	if err := windows.GetModuleInformation(windows.CurrentProcess(), h, &mi, uint32(unsafe.Sizeof(mi))); err != nil {
		return Module{}, fmt.Errorf("GetModuleInformation: %w", err)
	}

	var path [windows.MAX_PATH]uint16
	n, err := windows.GetModuleFileName(h, &path[0], uint32(len(path)))
	if err != nil {
		return Module{}, fmt.Errorf("GetModuleFileName: %w", err)
	}
	fullPath := windows.UTF16ToString(path[:n])

	if name == "" {
		name = filepath.Base(fullPath)
	}

	return Module{
		Name: name,
		Path: fullPath,
		Base: mi.BaseOfDll,
		Size: uintptr(mi.SizeOfImage),
	}, nil
}
