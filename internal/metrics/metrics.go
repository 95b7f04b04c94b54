package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fpsunlock"

// Metrics holds every collector of the agent. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// Pacer
	Ticks     prometheus.Counter
	Waits     prometheus.Counter
	Spins     prometheus.Counter
	Interval  prometheus.Histogram // seconds between released ticks
	Overshoot prometheus.Histogram // seconds past the target interval

	TimerGranularity prometheus.Gauge // seconds

	// Installation
	Installs         *prometheus.CounterVec // kind: hook, patch; result: ok, error
	ThreadsSuspended prometheus.Gauge

	// Settings
	Reloads          *prometheus.CounterVec // result: applied, unchanged, error
	TargetFramerate  prometheus.Gauge
	ConfigGeneration prometheus.Gauge
}

// New registers the collectors with reg. Use prometheus.DefaultRegisterer to
// serve them with promhttp.Handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pacer",
			Name:      "ticks_total",
			Help:      "Ticks released by the frame pacer",
		}),
		Waits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pacer",
			Name:      "waits_total",
			Help:      "Timer waits issued by the frame pacer",
		}),
		Spins: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pacer",
			Name:      "spins_total",
			Help:      "Busy loop iterations of the frame pacer",
		}),
		Interval: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pacer",
			Name:      "interval_seconds",
			Help:      "Time between released ticks",
			Buckets:   prometheus.ExponentialBuckets(0.001, 1.5, 16),
		}),
		Overshoot: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pacer",
			Name:      "overshoot_seconds",
			Help:      "Time a released tick ran past the target interval",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 12),
		}),
		TimerGranularity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "timer",
			Name:      "granularity_seconds",
			Help:      "Negotiated timer granularity",
		}),
		Installs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "installs_total",
			Help:      "Hooks and memory patches applied at startup",
		}, []string{"kind", "result"}),
		ThreadsSuspended: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threads_suspended",
			Help:      "Threads suspended during the last installation batch",
		}),
		Reloads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settings",
			Name:      "reloads_total",
			Help:      "Settings reloads by result",
		}, []string{"result"}),
		TargetFramerate: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "settings",
			Name:      "max_framerate",
			Help:      "Configured frame rate cap, 0 or less when uncapped",
		}),
		ConfigGeneration: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "settings",
			Name:      "generation",
			Help:      "Number of times the live settings changed",
		}),
	}
}

// Reload counts a settings reload.
func (m *Metrics) Reload(result string) {
	if m == nil {
		return
	}
	m.Reloads.WithLabelValues(result).Inc()
}

// Install counts an applied hook or patch.
func (m *Metrics) Install(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Installs.WithLabelValues(kind, result).Inc()
}
