package workflows

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/assessd/internal/workflows"

// activityMetrics are recorded by activities only. Workflow code records
// nothing, since it is replayed.
type activityMetrics struct {
	decisions metric.Int64Counter
	refusals  metric.Int64Counter
	duration  metric.Float64Histogram
}

func newActivityMetrics(meter metric.Meter) (*activityMetrics, error) {
	m := &activityMetrics{}
	var errs [3]error
	m.decisions, errs[0] = meter.Int64Counter("assessd.workflows.review.decisions",
		metric.WithDescription("Decisions the review workflow delivered to the controller"),
		metric.WithUnit("{decision}"))
	m.refusals, errs[1] = meter.Int64Counter("assessd.workflows.review.refusals",
		metric.WithDescription("Decisions the controller did not accept, by error type"),
		metric.WithUnit("{decision}"))
	m.duration, errs[2] = meter.Float64Histogram("assessd.workflows.activity.duration",
		metric.WithDescription("Review activity execution time"),
		metric.WithUnit("s"))
	return m, errors.Join(errs[:]...)
}

func (m *activityMetrics) record(ctx context.Context, action string, took time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("activity", "apply_decision"),
		attribute.String("decision", action),
	)
	m.duration.Record(ctx, took.Seconds(), attrs)
	if err == nil {
		m.decisions.Add(ctx, 1, attrs)
		return
	}
	kind := applicationErrorType(err)
	if kind == "" {
		kind = "retryable"
	}
	m.refusals.Add(ctx, 1, metric.WithAttributes(
		attribute.String("decision", action),
		attribute.String("error_type", kind),
	))
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *activityMetrics
	defaultMetricsErr  error
)

// globalActivityMetrics creates the instruments on the global meter
// provider the first time an activity runs, after telemetry has installed
// it.
func globalActivityMetrics() (*activityMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newActivityMetrics(otel.Meter(instrumentationName))
	})
	return defaultMetrics, defaultMetricsErr
}
