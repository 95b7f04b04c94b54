//go:build windows

package hotpatch

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	protRX  = windows.PAGE_EXECUTE_READ
	protRWX = windows.PAGE_EXECUTE_READWRITE
)

// mappedRegions returns the protection of every region VirtualQuery reports
// within [start, start+length).
func mappedRegions(start uintptr, length int) ([]region, error) {
	end := start + uintptr(length)

	var regions []region
	for addr := start; addr < end; {
		var mbi windows.MemoryBasicInformation
		if err := windows.VirtualQuery(addr, &mbi, unsafe.Sizeof(mbi)); err != nil {
			return nil, err
		}
		if mbi.State != windows.MEM_COMMIT {
			return nil, fmt.Errorf("address %#x is not committed", addr)
		}

		hi := min(mbi.BaseAddress+mbi.RegionSize, end)
		regions = append(regions, region{
			start:  addr,
			length: int(hi - addr),
			prot:   int(mbi.Protect),
		})
		addr = hi
	}

	return regions, nil
}

func mprotect(start uintptr, length int, prot int) error {
	var old uint32
	return windows.VirtualProtect(start, uintptr(length), uint32(prot), &old)
}
