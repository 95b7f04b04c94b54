//go:build !linux && !windows

package pacer

import "time"

type sleepTimer struct{}

// SystemTimer returns a timer backed by time.Sleep.
func SystemTimer() TimerDevice {
	return sleepTimer{}
}

func (sleepTimer) Query() (maximum, minimum, current Units, err error) {
	return DefaultGranularity, UnitsOf(time.Millisecond), UnitsOf(time.Millisecond), nil
}

func (sleepTimer) Set(Units) (Units, error) {
	return UnitsOf(time.Millisecond), nil
}

func (sleepTimer) Wait(u Units) {
	time.Sleep(u.Duration())
}
