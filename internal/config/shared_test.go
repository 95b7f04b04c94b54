package config

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/phuslu/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discardLogger = &log.Logger{
	Level:  log.DebugLevel,
	Writer: &log.IOWriter{Writer: io.Discard},
}

func TestTargetInterval(t *testing.T) {
	cases := map[string]struct {
		rate int
		want time.Duration
	}{
		"300":      {rate: 300, want: 3333333 * time.Nanosecond},
		"100":      {rate: 100, want: 10 * time.Millisecond},
		"1":        {rate: 1, want: time.Second},
		"uncapped": {rate: 0, want: 0},
		"negative": {rate: -5, want: 0},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, Values{MaxFramerate: tc.rate}.TargetInterval())
		})
	}
}

func TestReload(t *testing.T) {
	defaults := DefaultValues()

	cases := map[string]struct {
		src         MapSource
		want        func(v *Values)
		wantChanged bool
		wantFields  []string
	}{
		"empty": {
			src:  MapSource{},
			want: func(*Values) {},
		},
		"subset": {
			src: MapSource{"max_framerate": int64(144), "field_of_view": 75.5},
			want: func(v *Values) {
				v.MaxFramerate = 144
				v.FieldOfView = 75.5
			},
			wantChanged: true,
		},
		"same values": {
			src:  MapSource{"max_framerate": int64(300), "framelimiter_full_busy_loop": false},
			want: func(*Values) {},
		},
		"every field": {
			src: MapSource{
				"max_framerate":                       int64(60),
				"field_of_view":                       int64(70),
				"center_field_of_view":                76.0,
				"sprint_field_of_view":                json.Number("90.25"),
				"framelimiter_full_busy_loop":         true,
				"framelimiter_busy_loop_buffer_100ns": json.Number("5000"),
			},
			want: func(v *Values) {
				*v = Values{
					MaxFramerate:      60,
					FieldOfView:       70,
					CenterFieldOfView: 76,
					SprintFieldOfView: 90.25,
					FullBusyLoop:      true,
					BusyLoopBuffer:    5000,
				}
			},
			wantChanged: true,
		},
		"integral float as integer": {
			src: MapSource{"max_framerate": 240.0},
			want: func(v *Values) {
				v.MaxFramerate = 240
			},
			wantChanged: true,
		},
		"wrong types": {
			src: MapSource{
				"max_framerate":               "fast",
				"field_of_view":               true,
				"framelimiter_full_busy_loop": int64(1),
				"sprint_field_of_view":        int64(85),
			},
			want: func(v *Values) {
				v.SprintFieldOfView = 85
			},
			wantChanged: true,
			wantFields:  []string{"max_framerate", "field_of_view", "framelimiter_full_busy_loop"},
		},
		"fractional integer": {
			src:        MapSource{"max_framerate": 59.94},
			want:       func(*Values) {},
			wantFields: []string{"max_framerate"},
		},
		"integer out of range": {
			src:        MapSource{"max_framerate": int64(1) << 40},
			want:       func(*Values) {},
			wantFields: []string{"max_framerate"},
		},
		"unknown keys": {
			src:  MapSource{"vsync": true},
			want: func(*Values) {},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			s := NewShared(defaults, discardLogger)

			changed, err := s.Reload(tc.src)
			assert.Equal(t, tc.wantChanged, changed)

			if tc.wantFields == nil {
				assert.NoError(t, err)
			} else {
				var ferr *FieldErrors
				require.ErrorAs(t, err, &ferr)
				var got []string
				for _, f := range ferr.Fields {
					got = append(got, f.Field)
				}
				assert.ElementsMatch(t, tc.wantFields, got)
			}

			want := defaults
			tc.want(&want)
			assert.Equal(t, want, s.Snapshot())
			assert.Equal(t, want.TargetInterval(), s.Limits().Target)

			if changed {
				assert.Equal(t, uint64(1), s.Generation())
			} else {
				assert.Zero(t, s.Generation())
			}
		})
	}
}

func TestReload_UnchangedTakesNoWriteLock(t *testing.T) {
	s := NewShared(DefaultValues(), discardLogger)

	// A writer would block on this until the test ends.
	s.mu.RLock()
	defer s.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		changed, err := s.Reload(MapSource{"max_framerate": int64(300), "field_of_view": 60.0})
		assert.False(t, changed)
		assert.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("unchanged reload waited for the write lock")
	}
}

func TestReload_SourceError(t *testing.T) {
	s := NewShared(DefaultValues(), discardLogger)

	changed, err := s.Reload(FileSource{Path: "does-not-exist.json"})
	assert.False(t, changed)
	assert.Error(t, err)
	assert.Equal(t, DefaultValues(), s.Snapshot())
}

func TestUpdate(t *testing.T) {
	s := NewShared(DefaultValues(), discardLogger)

	assert.False(t, s.Update(func(v *Values) {}))
	assert.Zero(t, s.Generation())

	assert.True(t, s.Update(func(v *Values) {
		v.MaxFramerate = 0
		v.FullBusyLoop = true
		v.BusyLoopBuffer = 2500
	}))
	assert.Equal(t, uint64(1), s.Generation())

	l := s.Limits()
	assert.Zero(t, l.Target)
	assert.True(t, l.BusyLoop)
	assert.EqualValues(t, 2500, l.Margin)
}

func TestShared_NoTornReads(t *testing.T) {
	// Every field of a, and every field of b, moves together. A reader seeing
	// a mix of them caught a half-applied reload.
	a := Values{MaxFramerate: 100, FieldOfView: 100, CenterFieldOfView: 100, SprintFieldOfView: 100, BusyLoopBuffer: 100}
	b := Values{MaxFramerate: 200, FieldOfView: 200, CenterFieldOfView: 200, SprintFieldOfView: 200, BusyLoopBuffer: 200, FullBusyLoop: true}

	srcA := MapSource{
		"max_framerate": int64(100), "field_of_view": 100.0, "center_field_of_view": 100.0,
		"sprint_field_of_view": 100.0, "framelimiter_busy_loop_buffer_100ns": int64(100),
		"framelimiter_full_busy_loop": false,
	}
	srcB := MapSource{
		"max_framerate": int64(200), "field_of_view": 200.0, "center_field_of_view": 200.0,
		"sprint_field_of_view": 200.0, "framelimiter_busy_loop_buffer_100ns": int64(200),
		"framelimiter_full_busy_loop": true,
	}

	s := NewShared(a, discardLogger)

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			src := srcA
			if i%2 == 0 {
				src = srcB
			}
			_, err := s.Reload(src)
			assert.NoError(t, err)
		}
	}()

	var readers sync.WaitGroup
	for range 4 {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for range 20000 {
				v := s.Snapshot()
				if v != a && v != b {
					assert.Fail(t, "torn read", "%+v", v)
					return
				}
				l := s.Limits()
				if (l.Target == a.TargetInterval()) != (l.Margin == 100) {
					assert.Fail(t, "torn limits", "%+v", l)
					return
				}
			}
		}()
	}

	readers.Wait()
	close(stop)
	<-writerDone

	assert.Positive(t, s.Generation())
}

func TestFieldErrors(t *testing.T) {
	err := &FieldErrors{Fields: []FieldError{
		{Field: "max_framerate", Want: "integer", Value: "fast"},
		{Field: "field_of_view", Want: "number", Value: true},
	}}
	assert.Equal(t, "invalid settings: max_framerate: want integer, got string; field_of_view: want number, got bool", err.Error())

	var target *FieldErrors
	assert.True(t, errors.As(error(err), &target))
}
