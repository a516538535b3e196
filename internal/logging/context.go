package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// correlation is the set of ids a context carries into log entries. It is
// copied on every With* call, never mutated in place.
type correlation struct {
	run, phase, task, invocation, request string
}

type correlationKey struct{}

func correlationFrom(ctx context.Context) correlation {
	c, _ := ctx.Value(correlationKey{}).(correlation)
	return c
}

func withCorrelation(ctx context.Context, set func(*correlation)) context.Context {
	c := correlationFrom(ctx)
	set(&c)
	return context.WithValue(ctx, correlationKey{}, c)
}

// ContextFields returns the trace and run correlation fields carried by
// ctx. Every Logger method prepends them.
func ContextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	c := correlationFrom(ctx)
	for _, f := range [...]struct{ key, val string }{
		{"run.id", c.run},
		{"phase", c.phase},
		{"task.id", c.task},
		{"correlation.id", c.invocation},
		{"request.id", c.request},
	} {
		if f.val != "" {
			fields = append(fields, zap.String(f.key, f.val))
		}
	}
	return fields
}

// WithRunID tags ctx with the owning run.
func WithRunID(ctx context.Context, runID string) context.Context {
	return withCorrelation(ctx, func(c *correlation) { c.run = runID })
}

// RunIDFromContext returns the run id, or "".
func RunIDFromContext(ctx context.Context) string {
	return correlationFrom(ctx).run
}

func WithPhase(ctx context.Context, phase string) context.Context {
	return withCorrelation(ctx, func(c *correlation) { c.phase = phase })
}

func WithTaskID(ctx context.Context, taskID string) context.Context {
	return withCorrelation(ctx, func(c *correlation) { c.task = taskID })
}

// WithCorrelationID tags ctx with a task invocation's correlation id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return withCorrelation(ctx, func(c *correlation) { c.invocation = id })
}

// WithRequestID tags ctx with the id of the API request being served, so
// decisions logged by the breakpoint controller point back to it.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withCorrelation(ctx, func(c *correlation) { c.request = requestID })
}
