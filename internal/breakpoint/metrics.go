package breakpoint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the controller's Prometheus collectors.
type Metrics struct {
	// Pending is the number of breakpoints awaiting resolution.
	Pending prometheus.Gauge

	// Raised counts raised breakpoints.
	Raised prometheus.Counter

	// Outcomes counts terminal breakpoints.
	// Labels: outcome (approve, reject, modify, timed_out, cancelled)
	Outcomes *prometheus.CounterVec

	// WaitSeconds observes time from raise to terminal state.
	WaitSeconds prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "assessd",
			Subsystem: "breakpoint",
			Name:      "pending",
			Help:      "Number of breakpoints awaiting resolution",
		}),
		Raised: f.NewCounter(prometheus.CounterOpts{
			Namespace: "assessd",
			Subsystem: "breakpoint",
			Name:      "raised_total",
			Help:      "Total number of breakpoints raised",
		}),
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assessd",
			Subsystem: "breakpoint",
			Name:      "outcomes_total",
			Help:      "Total number of breakpoints by terminal outcome",
		}, []string{"outcome"}),
		WaitSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "assessd",
			Subsystem: "breakpoint",
			Name:      "wait_seconds",
			Help:      "Time from raise to terminal state in seconds",
			Buckets:   []float64{1, 10, 60, 300, 900, 3600, 4 * 3600, 24 * 3600},
		}),
	}
}
