//go:build linux || windows

package hotpatch

import (
	"testing"

	"github.com/edsrzf/mmap-go"
	"github.com/stretchr/testify/require"
)

// mapCode returns an anonymous mapping holding code, padded with INT3. The
// mapping is released when the test ends.
func mapCode(t *testing.T, prot int, code []byte) []byte {
	t.Helper()

	m, err := mmap.MapRegion(nil, 4096, mmap.RDWR|prot, mmap.ANON, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		m.Unmap()
	})

	for i := range m {
		m[i] = opcodeINT3
	}
	copy(m, code)
	return m
}
