package hotpatch

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"strings"
	"unsafe"
)

const (
	opcodeINT3      = 0xcc
	opcodeNOP       = 0x90
	opcodeMOV_imm_r = 0xb8 // MOV r, imm (register in the low 3 bits)
	opcodeJMP_rm    = 0xff // JMP r/m, ModRM reg field 4

	prefixREXW = 0x48
	prefixREXB = 0x41

	regModeDirect = 3
	regJMPExt     = 4

	registerAX  = 0
	registerR12 = 12
)

const ptrSize = int(unsafe.Sizeof(uintptr(0)))

// Convention tags the calling convention of a hook target. It picks the
// scratch register the detour and the trampoline clobber to hold the jump
// address, which must not carry an argument on entry.
type Convention int

const (
	// ConventionC covers the native C conventions (Win64, System V, and the
	// 32-bit cdecl, stdcall and thiscall). RAX/EAX is free on entry.
	ConventionC Convention = iota
	// ConventionGo is Go's internal register ABI, where RAX holds the first
	// argument. R12 is used instead on amd64.
	ConventionGo
)

func (c Convention) String() string {
	switch c {
	case ConventionC:
		return "c"
	case ConventionGo:
		return "go"
	default:
		return fmt.Sprintf("Convention(%d)", int(c))
	}
}

// ParseConvention maps a convention name from an address table to a
// Convention. The empty string is ConventionC.
func ParseConvention(name string) (Convention, error) {
	switch strings.ToLower(name) {
	case "", "c", "native", "cdecl", "stdcall", "thiscall", "fastcall", "win64", "sysv":
		return ConventionC, nil
	case "go":
		return ConventionGo, nil
	default:
		return 0, fmt.Errorf("unknown calling convention %q", name)
	}
}

func (c Convention) register(wordSize int) int {
	if wordSize == 8 && c == ConventionGo {
		return registerR12
	}
	return registerAX
}

func archSupported() bool {
	return runtime.GOARCH == "amd64" || runtime.GOARCH == "386"
}

// DetourSize returns the number of bytes needed for an absolute jump with the
// given convention on the running architecture. Hook lengths must be at least
// this long.
func DetourSize(c Convention) int {
	return jumpSize(ptrSize, c.register(ptrSize))
}

func jumpSize(wordSize, reg int) int {
	if wordSize == 4 {
		return 7 // 5 byte MOV + 2 byte JMP
	}
	if reg >= 8 {
		return 13 // REX.B on both instructions
	}
	return 12
}

// encodeJump writes the machine code equivalent of:
//
//	MOV <dest>, reg
//	JMP reg
//
// at the start of buf and returns the number of bytes written.
func encodeJump(buf []byte, wordSize, reg int, dest uintptr) (int, error) {
	size := jumpSize(wordSize, reg)
	if len(buf) < size {
		return 0, fmt.Errorf("buffer too small for jump instruction: %d < %d", len(buf), size)
	}

	i := 0
	if wordSize == 8 {
		rex := byte(prefixREXW)
		if reg >= 8 {
			rex |= prefixREXB
		}
		buf[i] = rex
		i++
	}

	buf[i] = opcodeMOV_imm_r | byte(reg&7)
	i++

	if wordSize == 8 {
		binary.LittleEndian.PutUint64(buf[i:], uint64(dest))
		i += 8
	} else {
		if uint64(dest) > 0xffffffff {
			return 0, fmt.Errorf("address %#x does not fit in 32 bits", dest)
		}
		binary.LittleEndian.PutUint32(buf[i:], uint32(dest))
		i += 4
	}

	if reg >= 8 {
		buf[i] = prefixREXB
		i++
	}
	buf[i] = opcodeJMP_rm
	i++
	buf[i] = regModeDirect<<6 | regJMPExt<<3 | byte(reg&7)
	i++

	return i, nil
}

// encodeDetour returns exactly length bytes: a jump to dest followed by NOPs.
func encodeDetour(length, wordSize int, c Convention, dest uintptr) ([]byte, error) {
	reg := c.register(wordSize)
	if length < jumpSize(wordSize, reg) {
		return nil, fmt.Errorf("%w: %d < %d", ErrPatchTooShort, length, jumpSize(wordSize, reg))
	}

	buf := make([]byte, length)
	n, err := encodeJump(buf, wordSize, reg, dest)
	if err != nil {
		return nil, err
	}
	for i := n; i < len(buf); i++ {
		buf[i] = opcodeNOP
	}
	return buf, nil
}
