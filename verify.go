package hotpatch

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/arch/x86/x86asm"
)

// scratchRegisters lists every name x86asm may use for the scratch register of
// c, sub-registers included.
func scratchRegisters(c Convention, wordSize int) []x86asm.Reg {
	if c.register(wordSize) == registerR12 {
		return []x86asm.Reg{x86asm.R12, x86asm.R12L, x86asm.R12W, x86asm.R12B}
	}
	return []x86asm.Reg{x86asm.RAX, x86asm.EAX, x86asm.AX, x86asm.AH, x86asm.AL}
}

// readsFirst lists instructions whose first argument is only read.
var readsFirst = map[x86asm.Op]bool{
	x86asm.CMP:  true,
	x86asm.TEST: true,
	x86asm.BT:   true,
	x86asm.PUSH: true,
	x86asm.OUT:  true,
	x86asm.CALL: true,
	x86asm.JMP:  true,
}

// writesEveryArg lists instructions that write all of their register
// arguments.
var writesEveryArg = map[x86asm.Op]bool{
	x86asm.XCHG: true,
	x86asm.XADD: true,
}

// writesAccumulator lists instructions that write the accumulator without
// naming it.
var writesAccumulator = map[x86asm.Op]bool{
	x86asm.MUL:        true,
	x86asm.DIV:        true,
	x86asm.IDIV:       true,
	x86asm.CBW:        true,
	x86asm.CWDE:       true,
	x86asm.CDQE:       true,
	x86asm.CMPXCHG:    true,
	x86asm.CMPXCHG8B:  true,
	x86asm.CMPXCHG16B: true,
	x86asm.LODSB:      true,
	x86asm.LODSW:      true,
	x86asm.LODSD:      true,
	x86asm.LODSQ:      true,
	x86asm.IN:         true,
	x86asm.LAHF:       true,
	x86asm.XLATB:      true,
	x86asm.CPUID:      true,
	x86asm.RDTSC:      true,
	x86asm.RDTSCP:     true,
	x86asm.RDMSR:      true,
	x86asm.RDPMC:      true,
	x86asm.XGETBV:     true,
	x86asm.POPA:       true,
	x86asm.POPAD:      true,
	x86asm.AAA:        true,
	x86asm.AAS:        true,
	x86asm.AAM:        true,
	x86asm.AAD:        true,
	x86asm.DAA:        true,
	x86asm.DAS:        true,
}

// decode is x86asm.Decode that also rejects the zero Op, which x86asm
// returns for some bytes it can't make sense of.
func decode(code []byte, mode int) (x86asm.Inst, error) {
	instruction, err := x86asm.Decode(code, mode)
	if err == nil && instruction.Op == 0 {
		err = errors.New("unrecognized instruction")
	}
	return instruction, err
}

// writesScratch reports whether instruction may change one of scratch.
func writesScratch(instruction x86asm.Inst, scratch []x86asm.Reg, accumulator bool) bool {
	isScratch := func(arg x86asm.Arg) bool {
		reg, ok := arg.(x86asm.Reg)
		return ok && slices.Contains(scratch, reg)
	}

	if accumulator && writesAccumulator[instruction.Op] {
		return true
	}
	// One operand IMUL writes EDX:EAX.
	if accumulator && instruction.Op == x86asm.IMUL && instruction.Args[1] == nil {
		return true
	}
	if writesEveryArg[instruction.Op] {
		for _, arg := range instruction.Args {
			if isScratch(arg) {
				return true
			}
		}
		return false
	}
	return !readsFirst[instruction.Op] && isScratch(instruction.Args[0])
}

// verifyRelocatable decodes the first length bytes of code, the bytes a hook
// is about to move into a trampoline, and reports whether they can run from
// another address and leave the scratch register of c alone. code may run
// past length so an instruction cut at length can be told apart from one that
// ends there.
func verifyRelocatable(code []byte, length int, wordSize int, c Convention) error {
	mode := wordSize * 8
	scratch := scratchRegisters(c, wordSize)
	accumulator := c.register(wordSize) != registerR12

	if len(code) < length {
		return fmt.Errorf("%w: have %d of %d bytes", ErrSplitInstruction, len(code), length)
	}

	i, last := 0, 0
	for i < length {
		last = i
		instruction, err := decode(code[i:], mode)
		if err != nil {
			if errors.Is(err, x86asm.ErrTruncated) {
				return fmt.Errorf("%w: at offset %d of %d", ErrSplitInstruction, i, length)
			}
			return fmt.Errorf("%w at offset %d: %v", ErrDecode, i, err)
		}

		if writesScratch(instruction, scratch, accumulator) {
			return fmt.Errorf("%w: %s at offset %d", ErrScratchRegister, instruction, i)
		}

		for _, arg := range instruction.Args {
			if arg == nil {
				break
			}
			switch a := arg.(type) {
			case x86asm.Rel:
				return fmt.Errorf("%w: %s at offset %d", ErrRelativeInstruction, instruction, i)
			case x86asm.Mem:
				if a.Base == x86asm.RIP {
					return fmt.Errorf("%w: %s at offset %d", ErrRelativeInstruction, instruction, i)
				}
			}
		}

		i += instruction.Len
	}

	if i != length {
		return fmt.Errorf("%w: instruction at offset %d ends at %d, not %d", ErrSplitInstruction, last, i, length)
	}
	return nil
}

// disassemble renders code one instruction per line, addressed as if it
// started at baseAddr. Undecodable bytes are printed as a single (bad) line
// and the rest is skipped.
func disassemble(code []byte, baseAddr uintptr, wordSize int) string {
	var buf bytes.Buffer

	for i := 0; i < len(code); {
		instruction, err := decode(code[i:], wordSize*8)
		if err != nil {
			fmt.Fprintf(&buf, "0x%08x\t%-20s\t(bad: %v)\n", baseAddr+uintptr(i), hex.EncodeToString(code[i:]), err)
			break
		}
		fmt.Fprintf(&buf, "0x%08x\t%-20s\t%s\n", baseAddr+uintptr(i), hex.EncodeToString(code[i:i+instruction.Len]), instruction.String())

		i += instruction.Len
	}

	return buf.String()
}
