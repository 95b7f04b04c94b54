package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"
)

func decode32(t *testing.T, code []byte) []x86asm.Inst {
	t.Helper()

	var insts []x86asm.Inst
	for i := 0; i < len(code); {
		inst, err := x86asm.Decode(code[i:], 32)
		require.NoError(t, err, "offset %d", i)
		insts = append(insts, inst)
		i += inst.Len
	}
	return insts
}

func TestThiscallEntry(t *testing.T) {
	const cb = 0x10203040

	for _, n := range []int{0, 1, 2, 5, maxThiscallArgs} {
		code, err := thiscallEntry(cb, n)
		require.NoError(t, err)

		insts := decode32(t, code)
		require.Len(t, insts, n+4)

		for i := range n {
			assert.Equal(t, x86asm.PUSH, insts[i].Op)
			mem, ok := insts[i].Args[0].(x86asm.Mem)
			require.True(t, ok)
			assert.Equal(t, x86asm.ESP, mem.Base)
			assert.Equal(t, int64(4*n), mem.Disp)
		}

		rest := insts[n:]
		assert.Equal(t, x86asm.PUSH, rest[0].Op)
		assert.Equal(t, x86asm.ECX, rest[0].Args[0])

		assert.Equal(t, x86asm.MOV, rest[1].Op)
		assert.Equal(t, x86asm.EAX, rest[1].Args[0])
		assert.Equal(t, x86asm.Imm(cb), rest[1].Args[1])

		assert.Equal(t, x86asm.CALL, rest[2].Op)
		assert.Equal(t, x86asm.EAX, rest[2].Args[0])

		assert.Equal(t, x86asm.RET, rest[3].Op)
		if n == 0 {
			assert.Nil(t, rest[3].Args[0])
		} else {
			assert.Equal(t, x86asm.Imm(4*n), rest[3].Args[0])
		}
	}
}

func TestThiscallEntry_TooManyArgs(t *testing.T) {
	_, err := thiscallEntry(0x1000, maxThiscallArgs+1)
	assert.Error(t, err)

	_, err = thiscallEntry(0x1000, -1)
	assert.Error(t, err)
}

func TestThiscallInvoker(t *testing.T) {
	insts := decode32(t, thiscallInvoker)
	require.Len(t, insts, 5)

	want := []struct {
		op  x86asm.Op
		reg x86asm.Reg
	}{
		{x86asm.POP, x86asm.EAX},
		{x86asm.POP, x86asm.EDX},
		{x86asm.POP, x86asm.ECX},
		{x86asm.PUSH, x86asm.EAX},
		{x86asm.JMP, x86asm.EDX},
	}
	for i, w := range want {
		assert.Equal(t, w.op, insts[i].Op, "instruction %d", i)
		assert.Equal(t, w.reg, insts[i].Args[0], "instruction %d", i)
	}
}
