package pacer

import (
	"errors"
	"io"
	"testing"

	"github.com/phuslu/log"
	"github.com/stretchr/testify/assert"
)

var discardLogger = &log.Logger{
	Level:  log.DebugLevel,
	Writer: &log.IOWriter{Writer: io.Discard},
}

type fakeTimer struct {
	maximum, minimum, current Units
	queryErr                  error

	// settles is the number of Set calls before the minimum sticks. -1
	// never settles.
	settles int
	setErr  error
	sets    int
}

func (f *fakeTimer) Query() (Units, Units, Units, error) {
	return f.maximum, f.minimum, f.current, f.queryErr
}

func (f *fakeTimer) Set(u Units) (Units, error) {
	f.sets++
	if f.setErr != nil {
		return 0, f.setErr
	}
	if f.settles >= 0 && f.sets >= f.settles {
		f.current = u
	}
	return f.current, nil
}

func (f *fakeTimer) Wait(Units) {}

func TestNegotiate(t *testing.T) {
	cases := map[string]struct {
		timer    *fakeTimer
		want     Resolution
		wantSets int
	}{
		"first try": {
			timer:    &fakeTimer{maximum: 156250, minimum: 5000, current: 156250, settles: 1},
			want:     Resolution{Maximum: 156250, Minimum: 5000, Achieved: 5000},
			wantSets: 1,
		},
		"third try": {
			timer:    &fakeTimer{maximum: 156250, minimum: 5000, current: 156250, settles: 3},
			want:     Resolution{Maximum: 156250, Minimum: 5000, Achieved: 5000},
			wantSets: 3,
		},
		"already at minimum": {
			timer:    &fakeTimer{maximum: 156250, minimum: 5000, current: 5000},
			want:     Resolution{Maximum: 156250, Minimum: 5000, Achieved: 5000},
			wantSets: 0,
		},
		"never settles": {
			timer:    &fakeTimer{maximum: 156250, minimum: 5000, current: 10000, settles: -1},
			want:     Resolution{Maximum: 156250, Minimum: 5000, Achieved: 10000},
			wantSets: 10,
		},
		"set fails": {
			timer:    &fakeTimer{maximum: 156250, minimum: 5000, current: 156250, setErr: errors.New("denied")},
			want:     Resolution{Maximum: 156250, Minimum: 5000, Achieved: 156250},
			wantSets: 10,
		},
		"query fails": {
			timer:    &fakeTimer{queryErr: errors.New("no ntdll")},
			want:     Resolution{Maximum: DefaultGranularity, Minimum: DefaultGranularity, Achieved: DefaultGranularity},
			wantSets: 0,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := Negotiate(tc.timer, 10, discardLogger)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.wantSets, tc.timer.sets)
		})
	}
}

func TestUnits(t *testing.T) {
	assert.Equal(t, Units(100000), UnitsOf(10_000_000))
	assert.Equal(t, Units(0), UnitsOf(99))
	assert.Equal(t, "15.625ms", DefaultGranularity.String())
}
