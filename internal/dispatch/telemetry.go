package dispatch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/assessd/internal/dispatch"

// Metrics holds the dispatcher's OpenTelemetry instruments.
type Metrics struct {
	invocations metric.Int64Counter
	failures    metric.Int64Counter
	inFlight    metric.Int64UpDownCounter
	duration    metric.Float64Histogram
}

// NewMetrics creates the instruments on meter, or the global meter if nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.invocations, err = meter.Int64Counter(
		"dispatch.invocations.total",
		metric.WithDescription("Total number of task invocations dispatched"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, err
	}

	m.failures, err = meter.Int64Counter(
		"dispatch.failures.total",
		metric.WithDescription("Total number of failed task invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, err
	}

	m.inFlight, err = meter.Int64UpDownCounter(
		"dispatch.inflight.count",
		metric.WithDescription("Task invocations waiting on an executor"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, err
	}

	m.duration, err = meter.Float64Histogram(
		"dispatch.duration.seconds",
		metric.WithDescription("Task invocation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) started(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("contract.kind", kind))
	m.invocations.Add(ctx, 1, attrs)
	m.inFlight.Add(ctx, 1, attrs)
}

func (m *Metrics) finished(ctx context.Context, kind string, derr *Error, elapsed time.Duration) {
	if m == nil {
		return
	}
	kindAttr := attribute.String("contract.kind", kind)
	m.inFlight.Add(ctx, -1, metric.WithAttributes(kindAttr))

	outcome := StatusSucceeded
	if derr != nil {
		outcome = string(derr.Kind)
		m.failures.Add(ctx, 1, metric.WithAttributes(
			kindAttr,
			attribute.String("failure.kind", string(derr.Kind)),
			attribute.String("failure.reason", string(derr.Reason)),
		))
	}
	m.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(kindAttr, attribute.String("outcome", outcome)))
}
