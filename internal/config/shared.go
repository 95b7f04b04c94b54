package config

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/phuslu/log"

	"github.com/pboyd/hotpatch/internal/pacer"
)

// Values are the settings that can change while the process runs.
type Values struct {
	MaxFramerate      int     `toml:"max_framerate" json:"max_framerate"`
	FieldOfView       float64 `toml:"field_of_view" json:"field_of_view"`
	CenterFieldOfView float64 `toml:"center_field_of_view" json:"center_field_of_view"`
	SprintFieldOfView float64 `toml:"sprint_field_of_view" json:"sprint_field_of_view"`
	FullBusyLoop      bool    `toml:"framelimiter_full_busy_loop" json:"framelimiter_full_busy_loop"`

	// BusyLoopBuffer is the pacer margin in 100ns units.
	BusyLoopBuffer int64 `toml:"framelimiter_busy_loop_buffer_100ns" json:"framelimiter_busy_loop_buffer_100ns"`
}

// DefaultValues returns the settings used until a settings file is read.
func DefaultValues() Values {
	return Values{
		MaxFramerate:      300,
		FieldOfView:       60,
		CenterFieldOfView: 66,
		SprintFieldOfView: 80,
		FullBusyLoop:      false,
		BusyLoopBuffer:    15000,
	}
}

// TargetInterval returns the time between frames at MaxFramerate, or 0 when
// uncapped.
func (v Values) TargetInterval() time.Duration {
	if v.MaxFramerate <= 0 {
		return 0
	}
	return time.Second / time.Duration(v.MaxFramerate)
}

// field binds a settings key to the Values field it sets.
type field struct {
	name  string
	kind  string
	apply func(v *Values, raw any) bool
}

var fields = []field{
	{"max_framerate", "integer", func(v *Values, raw any) bool { return setInt(&v.MaxFramerate, raw) }},
	{"field_of_view", "number", func(v *Values, raw any) bool { return setFloat(&v.FieldOfView, raw) }},
	{"center_field_of_view", "number", func(v *Values, raw any) bool { return setFloat(&v.CenterFieldOfView, raw) }},
	{"sprint_field_of_view", "number", func(v *Values, raw any) bool { return setFloat(&v.SprintFieldOfView, raw) }},
	{"framelimiter_full_busy_loop", "boolean", func(v *Values, raw any) bool { return setBool(&v.FullBusyLoop, raw) }},
	{"framelimiter_busy_loop_buffer_100ns", "integer", func(v *Values, raw any) bool {
		var n int
		if !setInt(&n, raw) {
			return false
		}
		v.BusyLoopBuffer = int64(n)
		return true
	}},
}

// FieldError is a settings key holding a value of the wrong type.
type FieldError struct {
	Field string
	Want  string
	Value any
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: want %s, got %T", e.Field, e.Want, e.Value)
}

// FieldErrors lists every rejected key of a reload. The other keys were still
// applied.
type FieldErrors struct {
	Fields []FieldError
}

func (e *FieldErrors) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return "invalid settings: " + strings.Join(msgs, "; ")
}

// Shared holds the live Values. Readers get consistent copies and a reload
// swaps the whole set at once.
type Shared struct {
	mu         sync.RWMutex
	live       Values
	target     time.Duration
	generation uint64

	logger *log.Logger
}

// NewShared returns a Shared starting at v.
func NewShared(v Values, logger *log.Logger) *Shared {
	if logger == nil {
		logger = &log.DefaultLogger
	}
	return &Shared{
		live:   v,
		target: v.TargetInterval(),
		logger: logger,
	}
}

// Snapshot returns a copy of the live values.
func (s *Shared) Snapshot() Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

// Limits returns the pacer settings.
func (s *Shared) Limits() pacer.Limits {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return pacer.Limits{
		Target:   s.target,
		BusyLoop: s.live.FullBusyLoop,
		Margin:   pacer.Units(s.live.BusyLoopBuffer),
	}
}

// Generation counts the changes to the live values.
func (s *Shared) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Update applies fn to a copy of the live values and swaps it in if anything
// changed. It reports whether it did.
func (s *Shared) Update(fn func(*Values)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	staging := s.live
	fn(&staging)
	if staging == s.live {
		return false
	}
	s.swap(staging)
	return true
}

// swap must be called with the write lock held.
func (s *Shared) swap(v Values) {
	s.live = v
	s.target = v.TargetInterval()
	s.generation++
}

// Reload reads src and applies every recognized key to a copy of the live
// values. Keys that are absent keep their value. Keys of the wrong type keep
// their value too and are returned in a *FieldErrors. The live values are only
// locked for writing when the result differs from them.
func (s *Shared) Reload(src Source) (bool, error) {
	raw, err := src.Load()
	if err != nil {
		return false, fmt.Errorf("loading settings from %s: %w", src, err)
	}

	for {
		s.mu.RLock()
		live, generation := s.live, s.generation
		s.mu.RUnlock()

		staging, ferr := s.apply(live, raw)

		if staging == live {
			return false, ferr
		}

		s.mu.Lock()
		if s.generation != generation {
			// Changed by someone else since the copy was taken.
			s.mu.Unlock()
			continue
		}
		s.swap(staging)
		s.mu.Unlock()

		s.logger.Info().
			Int("max_framerate", staging.MaxFramerate).
			Float64("field_of_view", staging.FieldOfView).
			Float64("center_field_of_view", staging.CenterFieldOfView).
			Float64("sprint_field_of_view", staging.SprintFieldOfView).
			Bool("full_busy_loop", staging.FullBusyLoop).
			Int64("busy_loop_buffer_100ns", staging.BusyLoopBuffer).
			Msg("settings changed")

		return true, ferr
	}
}

func (s *Shared) apply(staging Values, raw map[string]any) (Values, error) {
	var ferr *FieldErrors

	for _, f := range fields {
		v, ok := raw[f.name]
		if !ok {
			s.logger.Debug().Str("field", f.name).Msg("setting not present, keeping current value")
			continue
		}
		if !f.apply(&staging, v) {
			s.logger.Warn().Str("field", f.name).Str("want", f.kind).Str("got", fmt.Sprintf("%T", v)).Msg("setting has wrong type, keeping current value")
			if ferr == nil {
				ferr = &FieldErrors{}
			}
			ferr.Fields = append(ferr.Fields, FieldError{Field: f.name, Want: f.kind, Value: v})
		}
	}

	if ferr != nil {
		return staging, ferr
	}
	return staging, nil
}

// number converts the numeric types produced by the TOML and JSON decoders.
func number(raw any) (float64, bool) {
	switch n := raw.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func setInt(dst *int, raw any) bool {
	if n, ok := raw.(int64); ok {
		if n > math.MaxInt32 || n < math.MinInt32 {
			return false
		}
		*dst = int(n)
		return true
	}
	f, ok := number(raw)
	if !ok || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return false
	}
	*dst = int(f)
	return true
}

func setFloat(dst *float64, raw any) bool {
	f, ok := number(raw)
	if !ok {
		return false
	}
	*dst = f
	return true
}

func setBool(dst *bool, raw any) bool {
	b, ok := raw.(bool)
	if ok {
		*dst = b
	}
	return ok
}
