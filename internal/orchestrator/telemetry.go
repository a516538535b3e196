package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fyrsmithlabs/assessd/internal/gate"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/assessd/internal/orchestrator"

// Metrics holds the orchestrator's OpenTelemetry instruments.
type Metrics struct {
	runs        metric.Int64Counter
	active      metric.Int64UpDownCounter
	phases      metric.Int64Counter
	verdicts    metric.Int64Counter
	waitSeconds metric.Float64Histogram
}

// NewMetrics creates the instruments on meter, or the global meter if nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.runs, err = meter.Int64Counter(
		"orchestrator.runs.total",
		metric.WithDescription("Total number of runs by terminal status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	m.active, err = meter.Int64UpDownCounter(
		"orchestrator.runs.active",
		metric.WithDescription("Runs currently executing"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	m.phases, err = meter.Int64Counter(
		"orchestrator.phases.total",
		metric.WithDescription("Total number of phases executed by outcome"),
		metric.WithUnit("{phase}"),
	)
	if err != nil {
		return nil, err
	}

	m.verdicts, err = meter.Int64Counter(
		"orchestrator.gate.verdicts.total",
		metric.WithDescription("Gate verdicts by gate and status"),
		metric.WithUnit("{verdict}"),
	)
	if err != nil {
		return nil, err
	}

	m.waitSeconds, err = meter.Float64Histogram(
		"orchestrator.breakpoint.wait.seconds",
		metric.WithDescription("Time a run spent suspended on a breakpoint"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 10, 60, 300, 900, 3600, 14400, 86400),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) runStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.active.Add(ctx, 1)
}

func (m *Metrics) runFinished(ctx context.Context, s Status) {
	if m == nil {
		return
	}
	m.active.Add(ctx, -1)
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(s))))
}

func (m *Metrics) phaseFinished(ctx context.Context, phaseID, outcome string) {
	if m == nil {
		return
	}
	m.phases.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase", phaseID),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) gatesEvaluated(ctx context.Context, verdicts []gate.Verdict) {
	if m == nil {
		return
	}
	for _, v := range verdicts {
		m.verdicts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("gate", v.GateID),
			attribute.String("status", string(v.Status)),
		))
	}
}

func (m *Metrics) breakpointSettled(ctx context.Context, decision string, waited time.Duration) {
	if m == nil {
		return
	}
	m.waitSeconds.Record(ctx, waited.Seconds(), metric.WithAttributes(attribute.String("decision", decision)))
}
