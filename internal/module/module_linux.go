//go:build linux

package module

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/procfs"
)

// Resolve finds the module named name, matched against the base name of each
// mapped file. An empty name is the main executable.
func Resolve(name string) (Module, error) {
	match := func(path string) bool {
		return filepath.Base(path) == name
	}
	if name == "" {
		exe, err := os.Executable()
		if err != nil {
			return Module{}, err
		}
		name = filepath.Base(exe)
		match = func(path string) bool {
			return path == exe
		}
	}

	maps, err := selfMaps()
	if err != nil {
		return Module{}, err
	}

	m, ok := collect(maps, match)
	if !ok {
		return Module{}, fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	m.Name = name
	return m, nil
}

// Containing finds the mapped file holding addr.
func Containing(addr uintptr) (Module, error) {
	maps, err := selfMaps()
	if err != nil {
		return Module{}, err
	}

	for _, pm := range maps {
		if addr < pm.StartAddr || addr >= pm.EndAddr || pm.Pathname == "" {
			continue
		}
		m, _ := collect(maps, func(path string) bool {
			return path == pm.Pathname
		})
		m.Name = filepath.Base(m.Path)
		return m, nil
	}
	return Module{}, fmt.Errorf("%w: %#x", ErrNotLoaded, addr)
}

func selfMaps() ([]*procfs.ProcMap, error) {
	self, err := procfs.Self()
	if err != nil {
		return nil, err
	}
	return self.ProcMaps()
}

// collect spans every mapping of the first file matching match.
func collect(maps []*procfs.ProcMap, match func(string) bool) (Module, bool) {
	var m Module
	var end uintptr
	for _, pm := range maps {
		if pm.Pathname == "" || !match(pm.Pathname) {
			continue
		}
		if m.Path != "" && pm.Pathname != m.Path {
			continue
		}
		if m.Path == "" || pm.StartAddr < m.Base {
			m.Base = pm.StartAddr
		}
		m.Path = pm.Pathname
		end = max(end, pm.EndAddr)
	}
	if m.Path == "" {
		return Module{}, false
	}
	m.Size = end - m.Base
	return m, true
}
