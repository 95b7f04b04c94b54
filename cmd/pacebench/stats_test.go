package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	ms := time.Millisecond

	cases := map[string]struct {
		intervals []time.Duration
		target    time.Duration
		want      stats
	}{
		"empty": {
			target: 10 * ms,
			want:   stats{Target: 10 * ms},
		},
		"steady": {
			intervals: []time.Duration{10 * ms, 10 * ms, 10 * ms, 10 * ms},
			target:    10 * ms,
			want:      stats{Count: 4, Target: 10 * ms, Min: 10 * ms, Mean: 10 * ms, P99: 10 * ms, Max: 10 * ms},
		},
		"unsorted with early": {
			intervals: []time.Duration{12 * ms, 9 * ms, 11 * ms, 8 * ms},
			target:    10 * ms,
			want:      stats{Count: 4, Target: 10 * ms, Min: 8 * ms, Mean: 10 * ms, P99: 11 * ms, Max: 12 * ms, Early: 2},
		},
		"uncapped": {
			intervals: []time.Duration{1 * ms, 3 * ms},
			want:      stats{Count: 2, Min: 1 * ms, Mean: 2 * ms, P99: 1 * ms, Max: 3 * ms},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, summarize(tc.intervals, tc.target))
		})
	}
}

func TestStatsRate(t *testing.T) {
	assert.InDelta(t, 100.0, stats{Mean: 10 * time.Millisecond}.Rate(), 1e-9)
	assert.Zero(t, stats{}.Rate())
}
