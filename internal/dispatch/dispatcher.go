package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/assessd/internal/config"
	"github.com/fyrsmithlabs/assessd/internal/contract"
	"github.com/fyrsmithlabs/assessd/internal/logging"
)

// Invocation is one concrete dispatch of a contract.
type Invocation struct {
	TaskID string
	RunID  string
	Input  map[string]any
	// CorrelationID is generated when empty.
	CorrelationID string
	// Timeout overrides the contract and dispatcher defaults when positive.
	Timeout time.Duration
}

// Result is the terminal outcome of an Invocation. Output is set only on
// success and has already been validated against the output schema.
type Result struct {
	TaskID        string
	ContractKind  string
	CorrelationID string
	Output        map[string]any
	Err           error
	StartedAt     time.Time
	Duration      time.Duration
}

// Succeeded reports whether the invocation produced valid output.
func (r Result) Succeeded() bool { return r.Err == nil }

// Dispatcher validates invocations against their contracts and hands them to
// an Executor. It keeps no per-invocation state between calls.
type Dispatcher struct {
	executor       Executor
	defaultTimeout time.Duration
	limiter        *rate.Limiter
	records        RecordStore
	logger         *logging.Logger
	tracer         trace.Tracer
	metrics        *Metrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDefaultTimeout applies when neither the invocation nor the contract
// sets a timeout. Zero means no limit.
func WithDefaultTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.defaultTimeout = d }
}

// WithRateLimit throttles executor calls. A non-positive rate disables it.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(disp *Dispatcher) {
		if perSecond <= 0 {
			disp.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		disp.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithRecordStore persists every invocation's input and output.
func WithRecordStore(s RecordStore) Option {
	return func(disp *Dispatcher) { disp.records = s }
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l *zap.Logger) Option {
	return func(disp *Dispatcher) { disp.logger = logging.FromZap(l) }
}

// WithTracer sets the tracer used for dispatch spans.
func WithTracer(t trace.Tracer) Option {
	return func(disp *Dispatcher) { disp.tracer = t }
}

// WithMetrics sets the instruments used to record dispatches.
func WithMetrics(m *Metrics) Option {
	return func(disp *Dispatcher) { disp.metrics = m }
}

// ConfigOptions translates the dispatch config section into options.
// The record store is wired separately because it may need a database.
func ConfigOptions(cfg config.DispatchConfig) []Option {
	return []Option{
		WithDefaultTimeout(cfg.DefaultTimeout.Duration()),
		WithRateLimit(cfg.RatePerSecond, cfg.Burst),
	}
}

// New creates a dispatcher around executor.
func New(executor Executor, opts ...Option) *Dispatcher {
	metrics, _ := NewMetrics(nil)
	d := &Dispatcher{
		executor: executor,
		logger:   logging.NewNop(),
		tracer:   otel.Tracer(InstrumentationName),
		metrics:  metrics,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs one invocation to a terminal Result. Failures are reported
// through Result.Err as *Error; Dispatch itself never panics on bad output.
func (d *Dispatcher) Dispatch(ctx context.Context, c *contract.Contract, inv Invocation) Result {
	if inv.CorrelationID == "" {
		inv.CorrelationID = uuid.NewString()
	}
	res := Result{
		TaskID:        inv.TaskID,
		ContractKind:  c.Kind,
		CorrelationID: inv.CorrelationID,
		StartedAt:     time.Now(),
	}

	ctx = logging.WithCorrelationID(ctx, inv.CorrelationID)
	if inv.TaskID != "" {
		ctx = logging.WithTaskID(ctx, inv.TaskID)
	}
	ctx, span := d.tracer.Start(ctx, "dispatch.Dispatch", trace.WithAttributes(
		attribute.String("contract.kind", c.Kind),
		attribute.String("task.id", inv.TaskID),
		attribute.String("correlation.id", inv.CorrelationID),
	))
	defer span.End()

	d.metrics.started(ctx, c.Kind)
	output, derr := d.dispatch(ctx, c, inv)
	res.Duration = time.Since(res.StartedAt)
	d.metrics.finished(ctx, c.Kind, derr, res.Duration)

	if derr != nil {
		res.Err = derr
		span.RecordError(derr)
		span.SetStatus(codes.Error, string(derr.Kind))
		span.SetAttributes(attribute.String("failure.kind", string(derr.Kind)))
		if derr.Reason != "" {
			span.SetAttributes(attribute.String("failure.reason", string(derr.Reason)))
		}
		d.logger.Warn(ctx, "task invocation failed",
			zap.String("contract.kind", c.Kind),
			zap.String("failure.kind", string(derr.Kind)),
			zap.String("failure.reason", string(derr.Reason)),
			zap.Strings("fields", derr.Fields.Paths()),
			zap.Error(derr.Cause),
		)
	} else {
		res.Output = output
		span.SetStatus(codes.Ok, "")
		d.logger.Debug(ctx, "task invocation succeeded",
			zap.String("contract.kind", c.Kind),
			zap.Duration("duration", res.Duration),
		)
	}

	d.record(ctx, inv, res, derr)
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, c *contract.Contract, inv Invocation) (map[string]any, *Error) {
	input := inv.Input
	if input == nil {
		input = map[string]any{}
	}

	// Invalid input never reaches the executor.
	if errs := c.ValidateInput(input); len(errs) > 0 {
		return nil, &Error{Kind: KindInvalidInput, ContractKind: c.Kind, CorrelationID: inv.CorrelationID, Fields: errs}
	}

	if err := ctx.Err(); err != nil {
		return nil, d.failure(c, inv, ReasonCancelled, err)
	}

	execCtx, cancel := d.withTimeout(ctx, c, inv)
	defer cancel()

	if d.limiter != nil {
		if err := d.limiter.Wait(execCtx); err != nil {
			if ctx.Err() != nil {
				return nil, d.failure(c, inv, ReasonCancelled, err)
			}
			return nil, d.failure(c, inv, ReasonTimeout, err)
		}
	}

	resp, err := d.execute(execCtx, Payload{
		ContractKind:  c.Kind,
		Input:         input,
		CorrelationID: inv.CorrelationID,
		Execution:     c.Execution,
	})
	if err != nil {
		return nil, d.failure(c, inv, classify(ctx, execCtx, err), err)
	}
	if !resp.Success {
		return nil, d.failure(c, inv, ReasonRejected, &ExecutorError{Message: resp.Error})
	}

	output := resp.Output
	if output == nil {
		output = map[string]any{}
	}
	if errs := c.ValidateOutput(output); len(errs) > 0 {
		return nil, &Error{Kind: KindInvalidOutput, ContractKind: c.Kind, CorrelationID: inv.CorrelationID, Fields: errs}
	}
	return output, nil
}

// Timeout precedence: invocation, then contract, then dispatcher default.
func (d *Dispatcher) timeoutFor(c *contract.Contract, inv Invocation) time.Duration {
	switch {
	case inv.Timeout > 0:
		return inv.Timeout
	case c.Execution.Timeout > 0:
		return c.Execution.Timeout
	default:
		return d.defaultTimeout
	}
}

func (d *Dispatcher) withTimeout(ctx context.Context, c *contract.Contract, inv Invocation) (context.Context, context.CancelFunc) {
	if timeout := d.timeoutFor(c, inv); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// execute stops waiting when ctx is done even if the executor does not.
func (d *Dispatcher) execute(ctx context.Context, p Payload) (Response, error) {
	type outcome struct {
		resp Response
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("executor panic: %v", r)}
			}
		}()
		resp, err := d.executor.Execute(ctx, p)
		done <- outcome{resp: resp, err: err}
	}()

	select {
	case o := <-done:
		return o.resp, o.err
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func classify(parent, execCtx context.Context, err error) Reason {
	switch {
	case parent.Err() != nil:
		return ReasonCancelled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(execCtx.Err(), context.DeadlineExceeded):
		return ReasonTimeout
	default:
		return ReasonExecutorError
	}
}

func (d *Dispatcher) failure(c *contract.Contract, inv Invocation, reason Reason, cause error) *Error {
	return &Error{
		Kind:          KindExecutionFailed,
		Reason:        reason,
		ContractKind:  c.Kind,
		CorrelationID: inv.CorrelationID,
		Cause:         cause,
	}
}

func (d *Dispatcher) record(ctx context.Context, inv Invocation, res Result, derr *Error) {
	if d.records == nil {
		return
	}
	rec := Record{
		CorrelationID: res.CorrelationID,
		RunID:         inv.RunID,
		TaskID:        inv.TaskID,
		ContractKind:  res.ContractKind,
		Input:         inv.Input,
		Output:        res.Output,
		Status:        StatusSucceeded,
		StartedAt:     res.StartedAt,
		FinishedAt:    res.StartedAt.Add(res.Duration),
	}
	if derr != nil {
		rec.Status = string(derr.Kind)
		rec.Reason = derr.Reason
		rec.Error = derr.Error()
	}
	// A cancelled run still gets its records.
	if err := d.records.Save(context.WithoutCancel(ctx), rec); err != nil {
		d.logger.Warn(ctx, "failed to persist invocation record", zap.Error(err))
	}
}
