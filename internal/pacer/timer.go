package pacer

import (
	"github.com/phuslu/log"
)

// TimerDevice is the host's wait primitive and its resolution controls.
type TimerDevice interface {
	Waiter

	// Query returns the coarsest, the finest and the active resolution.
	Query() (maximum, minimum, current Units, err error)

	// Set requests a resolution and returns the one now active.
	Set(Units) (current Units, err error)
}

// Resolution is the outcome of Negotiate.
type Resolution struct {
	Minimum Units
	Maximum Units

	// Achieved is the active resolution once negotiation finished. Waits are
	// rounded down to multiples of it.
	Achieved Units
}

// Reached reports whether the finest resolution is active.
func (r Resolution) Reached() bool {
	return r.Achieved == r.Minimum
}

// Negotiate asks dev for its finest resolution, up to attempts times. It never
// fails: when the device can't be queried, DefaultGranularity is assumed.
func Negotiate(dev TimerDevice, attempts int, logger *log.Logger) Resolution {
	maximum, minimum, current, err := dev.Query()
	if err != nil {
		logger.Warn().Err(err).Stringer("granularity", DefaultGranularity).Msg("cannot query timer resolution, assuming default")
		return Resolution{
			Minimum:  DefaultGranularity,
			Maximum:  DefaultGranularity,
			Achieved: DefaultGranularity,
		}
	}

	res := Resolution{
		Minimum:  minimum,
		Maximum:  maximum,
		Achieved: current,
	}

	for i := 0; i < attempts && res.Achieved != minimum; i++ {
		current, err := dev.Set(minimum)
		if err != nil {
			logger.Debug().Err(err).Int("attempt", i+1).Msg("setting timer resolution failed")
			continue
		}
		res.Achieved = current
		if current != minimum {
			logger.Debug().Int("attempt", i+1).Stringer("current", current).Msg("timer resolution not at minimum, trying again")
		}
	}

	if res.Achieved <= 0 {
		res.Achieved = maximum
	}
	if res.Achieved <= 0 {
		res.Achieved = DefaultGranularity
	}

	if res.Reached() {
		logger.Info().Stringer("granularity", res.Achieved).Msg("timer resolution negotiated")
	} else {
		logger.Warn().
			Stringer("granularity", res.Achieved).
			Stringer("minimum", res.Minimum).
			Int("attempts", attempts).
			Msg("timer resolution did not reach minimum")
	}

	return res
}
