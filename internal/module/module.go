// Package module locates a loaded executable image in the current process.
package module

import (
	"debug/elf"
	"debug/pe"
	"errors"
	"fmt"
)

// ErrNotLoaded means no mapping matched the requested module.
var ErrNotLoaded = errors.New("module not loaded")

// Module is an executable image mapped into the process.
type Module struct {
	Name string
	Path string
	Base uintptr
	Size uintptr
}

// Contains reports whether addr falls inside the image.
func (m Module) Contains(addr uintptr) bool {
	return addr >= m.Base && addr-m.Base < m.Size
}

func (m Module) String() string {
	return fmt.Sprintf("%s@%#x+%#x", m.Name, m.Base, m.Size)
}

// PreferredBase returns the address the image at path was linked to load at.
// Addresses taken from a disassembler are relative to it.
func PreferredBase(path string) (uintptr, error) {
	if f, err := pe.Open(path); err == nil {
		defer f.Close()
		switch h := f.OptionalHeader.(type) {
		case *pe.OptionalHeader32:
			return uintptr(h.ImageBase), nil
		case *pe.OptionalHeader64:
			return uintptr(h.ImageBase), nil
		}
		return 0, fmt.Errorf("%s: PE file has no optional header", path)
	}

	f, err := elf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%s: not a PE or ELF image: %w", path, err)
	}
	defer f.Close()

	base, found := uint64(0), false
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if !found || p.Vaddr < base {
			base, found = p.Vaddr, true
		}
	}
	if !found {
		return 0, fmt.Errorf("%s: no loadable segments", path)
	}
	return uintptr(base &^ 0xfff), nil
}
