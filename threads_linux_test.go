//go:build linux

package hotpatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemThreads(t *testing.T) {
	threads := SystemThreads()

	ids, err := threads.Threads()
	require.NoError(t, err)
	assert.Contains(t, ids, threads.Current())

	assert.ErrorIs(t, threads.Suspend(threads.Current()), ErrSuspendUnsupported)
}
