package pacer

import (
	"time"

	"github.com/pboyd/hotpatch/internal/metrics"
)

// DefaultBucket bounds a single pacing cycle.
const DefaultBucket = time.Second

// Limits is what the pacer reads from the settings on every tick.
type Limits struct {
	// Target is the minimum time between released ticks. Zero or less means
	// uncapped.
	Target time.Duration

	// BusyLoop spins for the whole interval instead of waiting on the timer.
	BusyLoop bool

	// Margin is subtracted from every timer wait so wake-up latency is
	// absorbed by spinning instead of overshooting.
	Margin Units
}

// LimitSource returns a consistent copy of the current Limits.
type LimitSource interface {
	Limits() Limits
}

// StaticLimits is a LimitSource that never changes.
type StaticLimits Limits

func (l StaticLimits) Limits() Limits {
	return Limits(l)
}

// Pacer gates a tick loop to a target rate with a mix of timer waits and
// spinning.
//
// The boundary of each tick is the time it was released, not the time it was
// due, so a consistent overshoot accumulates instead of being paid back on the
// next tick.
//
// Pacer is not safe for concurrent use. It's meant to be driven by the single
// thread running the loop.
type Pacer struct {
	limits      LimitSource
	clock       Clock
	waiter      Waiter
	granularity Units
	metrics     *metrics.Metrics

	// Bucket bounds a single cycle. A tick is released once this much time
	// passed since the previous boundary, whatever the target.
	Bucket time.Duration

	boundary time.Duration
	started  bool
}

// New returns a Pacer. Waits are rounded down to whole multiples of
// granularity, which must be positive. m may be nil.
func New(limits LimitSource, clock Clock, waiter Waiter, granularity Units, m *metrics.Metrics) *Pacer {
	if granularity <= 0 {
		granularity = DefaultGranularity
	}
	if m != nil {
		m.TimerGranularity.Set(granularity.Duration().Seconds())
	}
	return &Pacer{
		limits:      limits,
		clock:       clock,
		waiter:      waiter,
		granularity: granularity,
		metrics:     m,
		Bucket:      DefaultBucket,
	}
}

// Granularity returns the unit waits are rounded to.
func (p *Pacer) Granularity() Units {
	return p.granularity
}

// Tick blocks until the target interval has passed since the previous tick
// was released. The first call returns immediately. When uncapped it returns
// immediately and leaves the boundary alone.
func (p *Pacer) Tick() {
	limits := p.limits.Limits()
	if limits.Target <= 0 {
		return
	}

	now := p.clock.Now()
	if !p.started {
		p.started = true
		p.boundary = now
		return
	}

	target := limits.Target
	if p.Bucket > 0 {
		target = min(target, p.Bucket)
	}

	var waits, spins int
	elapsed := now - p.boundary
	for elapsed < target {
		if limits.BusyLoop {
			spins++
		} else if wait := p.waitFor(target, limits.Margin, elapsed); wait > 0 {
			p.waiter.Wait(wait)
			waits++
		} else {
			spins++
		}

		now = p.clock.Now()
		elapsed = now - p.boundary
	}

	p.boundary = now
	p.observe(limits.Target, elapsed, waits, spins)
}

// waitFor returns how long to wait on the timer: the time left minus the
// margin, rounded down to the granularity.
func (p *Pacer) waitFor(target time.Duration, margin Units, elapsed time.Duration) Units {
	remaining := UnitsOf(target) - (UnitsOf(elapsed) + margin)
	if remaining <= 0 {
		return 0
	}
	return p.granularity * (remaining / p.granularity)
}

func (p *Pacer) observe(target, elapsed time.Duration, waits, spins int) {
	m := p.metrics
	if m == nil {
		return
	}
	m.Ticks.Inc()
	m.Waits.Add(float64(waits))
	m.Spins.Add(float64(spins))
	m.Interval.Observe(elapsed.Seconds())
	if over := elapsed - target; over > 0 {
		m.Overshoot.Observe(over.Seconds())
	}
}
