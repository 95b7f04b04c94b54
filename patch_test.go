//go:build linux || windows

package hotpatch

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatch(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	buf := mapCode(t, 0, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	addr := sliceAddr(buf)

	require.NoError(Patch(addr+2, []byte{0xaa, 0xbb}))
	assert.Equal([]byte{1, 2, 0xaa, 0xbb, 5, 6, 7, 8}, Read(addr, 8))

	require.NoError(PatchUint32(addr+4, 0x11223344))
	assert.Equal([]byte{1, 2, 0xaa, 0xbb, 0x44, 0x33, 0x22, 0x11}, Read(addr, 8))

	assert.NoError(Patch(addr, nil))
}

func TestPrepareWrite(t *testing.T) {
	buf := mapCode(t, 0, []byte{1, 2, 3, 4})
	addr := sliceAddr(buf)

	w, err := PrepareWrite(addr+1, []byte{0xaa, 0xbb})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, Read(addr, 4))

	allocs := testing.AllocsPerRun(10, func() {
		if err := w.Apply(); err != nil {
			t.Fatal(err)
		}
	})
	assert.Zero(t, allocs)
	assert.Equal(t, []byte{1, 0xaa, 0xbb, 4}, Read(addr, 4))
}

func TestPatch_Unmapped(t *testing.T) {
	err := Patch(0x10, []byte{0x90})
	assert.Error(t, err)
}

func TestPageBounds(t *testing.T) {
	pageSize := uintptr(os.Getpagesize())

	cases := map[string]struct {
		addr       uintptr
		size       int
		wantStart  uintptr
		wantLength int
	}{
		"aligned": {
			addr:       pageSize,
			size:       1,
			wantStart:  pageSize,
			wantLength: int(pageSize),
		},
		"inside": {
			addr:       pageSize + 100,
			size:       12,
			wantStart:  pageSize,
			wantLength: int(pageSize),
		},
		"straddles": {
			addr:       2*pageSize - 4,
			size:       8,
			wantStart:  pageSize,
			wantLength: int(2 * pageSize),
		},
		"whole page": {
			addr:       3 * pageSize,
			size:       int(pageSize),
			wantStart:  3 * pageSize,
			wantLength: int(pageSize),
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			start, length := pageBounds(tc.addr, tc.size)
			assert.Equal(t, tc.wantStart, start)
			assert.Equal(t, tc.wantLength, length)
		})
	}
}
