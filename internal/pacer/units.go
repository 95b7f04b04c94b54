package pacer

import "time"

// Units counts 100 nanosecond intervals, the unit of the NT timer API.
type Units int64

// DefaultGranularity is the timer granularity assumed when the host can't be
// asked: the NT default tick of 15.625ms.
const DefaultGranularity Units = 156250

// UnitsOf truncates d to whole 100ns intervals.
func UnitsOf(d time.Duration) Units {
	return Units(d / 100)
}

func (u Units) Duration() time.Duration {
	return time.Duration(u) * 100
}

func (u Units) String() string {
	return u.Duration().String()
}

// Clock reads a monotonic clock. Only differences between readings are
// meaningful.
type Clock interface {
	Now() time.Duration
}

// Waiter blocks the calling thread for about the given time.
type Waiter interface {
	Wait(Units)
}

type monotonicClock struct {
	start time.Time
}

// SystemClock returns a Clock reading Go's monotonic clock.
func SystemClock() Clock {
	return monotonicClock{start: time.Now()}
}

func (c monotonicClock) Now() time.Duration {
	return time.Since(c.start)
}
