package hotpatch

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/pboyd/malloc"
)

// arena hands out executable memory for trampolines. Memory is never
// returned: hooks are permanent, so a trampoline lives as long as the
// process.
//
// Every place maps a fresh read-write slab, copies the code in and seals the
// slab read-execute. A sealed slab is never made writable again, so code
// that a thread may be running is never writable.
type arena struct {
	mu    sync.Mutex
	slabs []*malloc.Arena
}

// slab maps read-write memory with room for size bytes. The returned seal
// function flips it to read-execute.
func slab(size int) (*malloc.Arena, func() error, error) {
	be := malloc.MmapBackend()
	protBE, ok := be.(malloc.ProtectedArenaBackend)
	if !ok {
		return nil, nil, errors.New("backend can't change memory protection")
	}

	// The arena keeps a 16 byte header in front of each block.
	s := malloc.NewArena(uint64(size+32), malloc.Backend(be))
	if s == nil {
		return nil, nil, errors.New("unable to map trampoline memory")
	}
	return s, func() error { return protBE.Protect(protRX) }, nil
}

// place copies code into a new slab and returns the copy. The slab is sealed
// read-execute before place returns.
func (a *arena) place(code []byte) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, seal, err := slab(len(code))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTrampolineAlloc, err)
	}

	buf, err := malloc.MallocSlice[byte](s, len(code))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTrampolineAlloc, err)
	}
	copy(buf, code)

	if err := seal(); err != nil {
		return nil, fmt.Errorf("unable to seal trampoline: %w", err)
	}
	a.slabs = append(a.slabs, s)
	return buf, nil
}

// buildTrampoline returns the machine code equivalent of:
//
//	<original>
//	MOV <target+len(original)>, reg
//	JMP reg
//
// padded with INT3 to a 16 byte boundary, placed in executable memory.
func (a *arena) buildTrampoline(original []byte, target uintptr, c Convention) ([]byte, error) {
	reg := c.register(ptrSize)
	size := len(original) + jumpSize(ptrSize, reg)

	code := make([]byte, (size+0xf)&^0xf)
	copy(code, original)

	if _, err := encodeJump(code[len(original):], ptrSize, reg, target+uintptr(len(original))); err != nil {
		return nil, err
	}

	// Pad with INT3 to match what the compiler does
	for i := size; i < len(code); i++ {
		code[i] = opcodeINT3
	}

	return a.place(code)
}

func sliceAddr(buf []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
}
