package config

import (
	"context"
	"errors"
	"time"

	"github.com/phuslu/log"

	"github.com/pboyd/hotpatch/internal/metrics"
)

// DefaultReloadInterval is how often settings are read again.
const DefaultReloadInterval = 2 * time.Second

// Reloader reloads a Shared from a Source on a fixed interval.
type Reloader struct {
	Shared   *Shared
	Source   Source
	Interval time.Duration
	Logger   *log.Logger
	Metrics  *metrics.Metrics
}

// Run reloads until ctx is done.
func (r *Reloader) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultReloadInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reload()
		}
	}
}

// Reload reloads once. Errors are logged and counted, never fatal: the
// previous values stay live.
func (r *Reloader) Reload() bool {
	changed, err := r.Shared.Reload(r.Source)

	var ferr *FieldErrors
	switch {
	case err != nil && !errors.As(err, &ferr):
		r.logger().Warn().Err(err).Msg("settings reload failed")
		r.Metrics.Reload("error")
		return false
	case changed:
		r.Metrics.Reload("applied")
	default:
		r.Metrics.Reload("unchanged")
	}

	if r.Metrics != nil {
		v := r.Shared.Snapshot()
		r.Metrics.TargetFramerate.Set(float64(v.MaxFramerate))
		r.Metrics.ConfigGeneration.Set(float64(r.Shared.Generation()))
	}
	return changed
}

func (r *Reloader) logger() *log.Logger {
	if r.Logger == nil {
		return &log.DefaultLogger
	}
	return r.Logger
}
