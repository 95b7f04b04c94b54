package agent

import (
	"encoding/binary"
	"fmt"
)

// maxThiscallArgs keeps the stack offset of the entry shim's PUSH in a signed
// byte.
const maxThiscallArgs = 31

// nativeABI adapts Go callbacks to the host's calling conventions. Shim code
// is placed in executable memory with place.
type nativeABI struct {
	place func(code []byte) (uintptr, error)

	invoker uintptr
}

// thiscallEntry returns 32-bit code that accepts a thiscall with stackArgs
// arguments and forwards it to the stdcall function cb, with the ECX object
// pointer as the first argument:
//
//	PUSH dword [ESP+4*stackArgs]    ; stackArgs times
//	PUSH ECX
//	MOV EAX, cb
//	CALL EAX
//	RET 4*stackArgs
func thiscallEntry(cb uint32, stackArgs int) ([]byte, error) {
	if stackArgs < 0 || stackArgs > maxThiscallArgs {
		return nil, fmt.Errorf("thiscall with %d stack arguments not supported", stackArgs)
	}

	code := make([]byte, 0, 4*stackArgs+11)
	for range stackArgs {
		// Each push moves ESP down one slot, so the same offset walks the
		// arguments from last to first.
		code = append(code, 0xff, 0x74, 0x24, byte(4*stackArgs))
	}
	code = append(code, 0x51)
	code = append(code, 0xb8)
	code = binary.LittleEndian.AppendUint32(code, cb)
	code = append(code, 0xff, 0xd0)

	if stackArgs == 0 {
		return append(code, 0xc3), nil
	}
	code = append(code, 0xc2)
	return binary.LittleEndian.AppendUint16(code, uint16(4*stackArgs)), nil
}

// thiscallInvoker is 32-bit code called as stdcall with (fn, this, args...)
// that tail calls the thiscall fn with this in ECX. fn pops args, the caller
// is left to pop fn and this.
//
//	POP EAX    ; return address
//	POP EDX    ; fn
//	POP ECX    ; this
//	PUSH EAX
//	JMP EDX
var thiscallInvoker = []byte{0x58, 0x5a, 0x59, 0x50, 0xff, 0xe2}
