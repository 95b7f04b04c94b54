//go:build linux

package hotpatch

import (
	"fmt"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

const (
	protRX  = unix.PROT_READ | unix.PROT_EXEC
	protRWX = unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
)

// mappedRegions reads /proc/self/maps and returns the protection of every
// mapping overlapping [start, start+length). Linux has no call that reports
// the protection of a page, so this is the only way to put it back.
func mappedRegions(start uintptr, length int) ([]region, error) {
	self, err := procfs.Self()
	if err != nil {
		return nil, err
	}
	maps, err := self.ProcMaps()
	if err != nil {
		return nil, err
	}

	end := start + uintptr(length)
	covered := start

	var regions []region
	for _, m := range maps {
		if m.EndAddr <= start || m.StartAddr >= end {
			continue
		}

		lo, hi := max(m.StartAddr, start), min(m.EndAddr, end)
		if lo != covered {
			return nil, fmt.Errorf("address %#x is not mapped", covered)
		}
		covered = hi

		regions = append(regions, region{
			start:  lo,
			length: int(hi - lo),
			prot:   permsToProt(m.Perms),
		})
	}
	if covered != end {
		return nil, fmt.Errorf("address %#x is not mapped", covered)
	}

	return regions, nil
}

func permsToProt(p *procfs.ProcMapPermissions) int {
	prot := unix.PROT_NONE
	if p == nil {
		return prot
	}
	if p.Read {
		prot |= unix.PROT_READ
	}
	if p.Write {
		prot |= unix.PROT_WRITE
	}
	if p.Execute {
		prot |= unix.PROT_EXEC
	}
	return prot
}

func mprotect(start uintptr, length int, prot int) error {
	return unix.Mprotect(memory(start, length), prot)
}
