package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pboyd/hotpatch/internal/metrics"
)

func TestReloader_Reload(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	src := MapSource{"max_framerate": int64(120)}
	r := &Reloader{
		Shared:  NewShared(DefaultValues(), discardLogger),
		Source:  src,
		Logger:  discardLogger,
		Metrics: m,
	}

	assert.True(t, r.Reload())
	assert.False(t, r.Reload())

	src["max_framerate"] = "bad"
	assert.False(t, r.Reload())

	r.Source = FileSource{Path: filepath.Join(t.TempDir(), "missing.json")}
	assert.False(t, r.Reload())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reloads.WithLabelValues("applied")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Reloads.WithLabelValues("unchanged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reloads.WithLabelValues("error")))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.TargetFramerate))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConfigGeneration))
}

func TestReloader_Run(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"max_framerate": 60}`), 0644))

	shared := NewShared(DefaultValues(), discardLogger)
	r := &Reloader{
		Shared:   shared,
		Source:   FileSource{Path: path},
		Interval: 5 * time.Millisecond,
		Logger:   discardLogger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()

	assert.Eventually(t, func() bool {
		return shared.Snapshot().MaxFramerate == 60
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(`{"max_framerate": 0}`), 0644))
	assert.Eventually(t, func() bool {
		return shared.Limits().Target == 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
