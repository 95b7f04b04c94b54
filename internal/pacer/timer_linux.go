//go:build linux

package pacer

import (
	"time"

	"golang.org/x/sys/unix"
)

type monotonicTimer struct{}

// SystemTimer returns a timer sleeping on CLOCK_MONOTONIC. Linux has no
// process controlled timer resolution, so Set reports the clock's resolution
// unchanged.
func SystemTimer() TimerDevice {
	return monotonicTimer{}
}

func (monotonicTimer) resolution() (Units, error) {
	var ts unix.Timespec
	if err := unix.ClockGetres(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0, err
	}
	u := UnitsOf(time.Duration(ts.Nano()))
	// High resolution timers report 1ns.
	return max(u, 1), nil
}

func (t monotonicTimer) Query() (maximum, minimum, current Units, err error) {
	u, err := t.resolution()
	return u, u, u, err
}

func (t monotonicTimer) Set(Units) (Units, error) {
	return t.resolution()
}

func (monotonicTimer) Wait(u Units) {
	if u <= 0 {
		return
	}
	ts := unix.NsecToTimespec(int64(u.Duration()))
	for {
		var rem unix.Timespec
		err := unix.ClockNanosleep(unix.CLOCK_MONOTONIC, 0, &ts, &rem)
		if err != unix.EINTR {
			return
		}
		ts = rem
	}
}
