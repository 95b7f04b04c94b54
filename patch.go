package hotpatch

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"
)

// Write is a patch whose page protections were looked up ahead of time.
// Apply makes system calls but doesn't allocate, so it is safe to call while
// every other thread, the runtime's included, is suspended.
type Write struct {
	addr    uintptr
	buf     []byte
	start   uintptr
	length  int
	regions []region
}

// PrepareWrite records the protection of the pages holding
// [addr, addr+len(buf)). The protection must not change before Apply.
func PrepareWrite(addr uintptr, buf []byte) (*Write, error) {
	start, length := pageBounds(addr, len(buf))
	regions, err := mappedRegions(start, length)
	if err != nil {
		return nil, fmt.Errorf("unable to read protection at %#x: %w", addr, err)
	}
	return &Write{
		addr:    addr,
		buf:     buf,
		start:   start,
		length:  length,
		regions: regions,
	}, nil
}

// Apply makes the pages writable, copies the bytes in and puts each page back
// to the protection it had. Nothing is written if the pages can't be made
// writable.
func (w *Write) Apply() error {
	if len(w.buf) == 0 {
		return nil
	}
	if err := mprotect(w.start, w.length, protRWX); err != nil {
		return err
	}

	copy(memory(w.addr, len(w.buf)), w.buf)

	for _, r := range w.regions {
		if err := mprotect(r.start, r.length, r.prot); err != nil {
			return err
		}
	}
	return nil
}

// Patch overwrites len(buf) bytes at addr. The pages holding the range are
// made writable for the copy and then put back to the protection they had
// before.
//
// Patch does nothing to stop other threads from executing the range while it
// is being written. Bracket batches of patches with a Quiescer.
func Patch(addr uintptr, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}

	w, err := PrepareWrite(addr, buf)
	if err != nil {
		return err
	}
	if err := w.Apply(); err != nil {
		return fmt.Errorf("unable to patch %#x: %w", addr, err)
	}
	return nil
}

// region is a page-aligned range with a single protection.
type region struct {
	start  uintptr
	length int
	prot   int
}

// PatchUint32 writes v at addr in little-endian byte order.
func PatchUint32(addr uintptr, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return Patch(addr, buf[:])
}

// Read returns a copy of n bytes at addr.
func Read(addr uintptr, n int) []byte {
	buf := make([]byte, n)
	copy(buf, memory(addr, n))
	return buf
}

func memory(addr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

// pageBounds rounds [addr, addr+size) out to whole pages.
func pageBounds(addr uintptr, size int) (uintptr, int) {
	pageSize := uintptr(os.Getpagesize())

	// Example: addr=4196 with pageSize=4096 starts at 4096.
	start := addr &^ (pageSize - 1)
	end := (addr + uintptr(size) + pageSize - 1) &^ (pageSize - 1)

	return start, int(end - start)
}
