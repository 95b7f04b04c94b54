package pacer

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pboyd/hotpatch/internal/metrics"
)

// simClock is a Clock and Waiter that only moves when read or waited on.
type simClock struct {
	now     time.Duration
	step    time.Duration // cost of a clock read
	latency time.Duration // added to every wait
	waits   []Units
}

func (c *simClock) Now() time.Duration {
	c.now += c.step
	return c.now
}

func (c *simClock) Wait(u Units) {
	c.waits = append(c.waits, u)
	c.now += u.Duration() + c.latency
}

type mutableLimits struct {
	l Limits
}

func (m *mutableLimits) Limits() Limits {
	return m.l
}

func TestPacer_NeverEarly(t *testing.T) {
	targets := []time.Duration{
		time.Millisecond,
		time.Second / 144,
		10 * time.Millisecond,
		time.Second / 60,
		999 * time.Millisecond,
	}

	for _, target := range targets {
		for _, busy := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s busy=%v", target, busy), func(t *testing.T) {
				clock := &simClock{step: time.Microsecond, latency: 300 * time.Microsecond}
				limits := StaticLimits{Target: target, BusyLoop: busy, Margin: 1500}
				p := New(limits, clock, clock, 5000, nil)

				p.Tick()
				prev := clock.now
				for range 50 {
					p.Tick()
					assert.GreaterOrEqual(t, clock.now-prev, target)
					prev = clock.now
				}

				if busy {
					assert.Empty(t, clock.waits)
				}
			})
		}
	}
}

func TestPacer_FirstTickImmediate(t *testing.T) {
	clock := &simClock{step: time.Microsecond}
	p := New(StaticLimits{Target: 10 * time.Millisecond}, clock, clock, 5000, nil)

	p.Tick()
	assert.Equal(t, time.Microsecond, clock.now)
	assert.Empty(t, clock.waits)
}

func TestPacer_Uncapped(t *testing.T) {
	assert := assert.New(t)

	clock := &simClock{step: time.Microsecond}
	limits := &mutableLimits{l: Limits{Target: 0}}
	p := New(limits, clock, clock, 5000, nil)

	const work = 250 * time.Microsecond
	for range 1000 {
		clock.now += work
		p.Tick()
	}
	assert.Equal(1000*work, clock.now)
	assert.Empty(clock.waits)

	limits.l.Target = -1
	p.Tick()
	assert.Equal(1000*work, clock.now)

	// The boundary was never recorded, so the first capped tick is free.
	limits.l.Target = 10 * time.Millisecond
	p.Tick()
	assert.Empty(clock.waits)
}

func TestPacer_Scenario100FPS(t *testing.T) {
	const (
		granularity Units = 5000
		margin      Units = 1500
		target            = 10 * time.Millisecond
	)

	cases := map[string]time.Duration{
		"no latency":    0,
		"some latency":  80 * time.Microsecond,
		"within margin": 149 * time.Microsecond,
	}

	for name, latency := range cases {
		t.Run(name, func(t *testing.T) {
			clock := &simClock{step: 500 * time.Nanosecond, latency: latency}
			p := New(StaticLimits{Target: target, Margin: margin}, clock, clock, granularity, nil)

			p.Tick()
			prev := clock.now
			for range 100 {
				// Work done by the caller between ticks.
				clock.now += 3 * time.Millisecond
				p.Tick()

				spacing := clock.now - prev
				assert.GreaterOrEqual(t, spacing, target)
				assert.LessOrEqual(t, spacing-target, (granularity + margin).Duration())
				prev = clock.now
			}

			require.NotEmpty(t, clock.waits)
			for _, w := range clock.waits {
				assert.Zero(t, w%granularity, "wait %d", w)
			}
		})
	}
}

func TestPacer_WaitRounding(t *testing.T) {
	cases := map[string]struct {
		elapsed time.Duration
		want    Units
	}{
		"plenty left": {
			elapsed: 1 * time.Millisecond,
			want:    85000, // 100000 - 10000 - 1500, rounded to 5000
		},
		"under a granule": {
			elapsed: 9500 * time.Microsecond,
			want:    0,
		},
		"inside margin": {
			elapsed: 9900 * time.Microsecond,
			want:    0,
		},
		"past target": {
			elapsed: 11 * time.Millisecond,
			want:    0,
		},
	}

	p := New(StaticLimits{}, &simClock{}, &simClock{}, 5000, nil)
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, p.waitFor(10*time.Millisecond, 1500, tc.elapsed))
		})
	}
}

func TestPacer_Bucket(t *testing.T) {
	clock := &simClock{step: time.Microsecond}
	p := New(StaticLimits{Target: 3 * time.Second}, clock, clock, DefaultGranularity, nil)

	p.Tick()
	start := clock.now
	p.Tick()

	assert.GreaterOrEqual(t, clock.now-start, DefaultBucket)
	assert.Less(t, clock.now-start, DefaultBucket+DefaultGranularity.Duration())
}

func TestPacer_LimitsReadPerTick(t *testing.T) {
	clock := &simClock{step: time.Microsecond}
	limits := &mutableLimits{l: Limits{Target: 10 * time.Millisecond, BusyLoop: true}}
	p := New(limits, clock, clock, 5000, nil)

	p.Tick()
	p.Tick()
	assert.Empty(t, clock.waits)

	limits.l.BusyLoop = false
	p.Tick()
	assert.NotEmpty(t, clock.waits)

	limits.l.Target = 20 * time.Millisecond
	prev := clock.now
	p.Tick()
	assert.GreaterOrEqual(t, clock.now-prev, 20*time.Millisecond)
}

func TestPacer_Metrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	clock := &simClock{step: time.Microsecond}
	p := New(StaticLimits{Target: 10 * time.Millisecond}, clock, clock, 5000, m)

	for range 5 {
		p.Tick()
	}

	// The first tick only records the boundary.
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Ticks))
	assert.Equal(t, float64(len(clock.waits)), testutil.ToFloat64(m.Waits))
	assert.Equal(t, 0.0005, testutil.ToFloat64(m.TimerGranularity))
}
