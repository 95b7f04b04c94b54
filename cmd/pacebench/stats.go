package main

import (
	"slices"
	"time"
)

// stats summarizes the intervals of a run.
type stats struct {
	Count  int
	Target time.Duration
	Min    time.Duration
	Mean   time.Duration
	P99    time.Duration
	Max    time.Duration

	// Early counts intervals shorter than the target.
	Early int
}

func summarize(intervals []time.Duration, target time.Duration) stats {
	s := stats{Count: len(intervals), Target: target}
	if len(intervals) == 0 {
		return s
	}

	sorted := slices.Clone(intervals)
	slices.Sort(sorted)

	var total time.Duration
	for _, d := range sorted {
		total += d
		if target > 0 && d < target {
			s.Early++
		}
	}

	s.Min = sorted[0]
	s.Max = sorted[len(sorted)-1]
	s.Mean = total / time.Duration(len(sorted))
	s.P99 = sorted[(len(sorted)-1)*99/100]
	return s
}

// Rate returns the achieved ticks per second.
func (s stats) Rate() float64 {
	if s.Mean <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.Mean)
}
