package phase

import (
	"context"
	"maps"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/assessd/internal/contract"
	"github.com/fyrsmithlabs/assessd/internal/dispatch"
	"github.com/fyrsmithlabs/assessd/internal/logging"
	"github.com/fyrsmithlabs/assessd/internal/runstate"
)

const instrumentationName = "github.com/fyrsmithlabs/assessd/internal/phase"

// Dispatcher runs one invocation to a terminal result.
type Dispatcher interface {
	Dispatch(ctx context.Context, c *contract.Contract, inv dispatch.Invocation) dispatch.Result
}

// Contracts resolves task kinds.
type Contracts interface {
	Lookup(kind string) (*contract.Contract, error)
}

// Runner executes phases. It never touches run state: it reads the view it
// is given and returns a Result to fold.
type Runner struct {
	dispatcher     Dispatcher
	contracts      Contracts
	maxParallelism int
	logger         *logging.Logger
	tracer         trace.Tracer
}

// Option configures a Runner.
type Option func(*Runner)

// WithMaxParallelism caps concurrent dispatches for parallel phases that
// declare no limit. Zero or less means unbounded.
func WithMaxParallelism(n int) Option {
	return func(r *Runner) { r.maxParallelism = n }
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = logging.FromZap(l) }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) { r.tracer = t }
}

// NewRunner creates a Runner.
func NewRunner(d Dispatcher, contracts Contracts, opts ...Option) *Runner {
	r := &Runner{
		dispatcher: d,
		contracts:  contracts,
		logger:     logging.NewNop(),
		tracer:     otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes p against view.
//
// On success the Result joins every task in declaration order; failures of
// optional tasks are listed in Result.Failures. If any required task fails
// the Result is nil and the error is a *PhaseFailedError.
func (r *Runner) Run(ctx context.Context, p Phase, view runstate.Snapshot) (*Result, error) {
	ctx = logging.WithPhase(ctx, p.ID)
	ctx, span := r.tracer.Start(ctx, "phase.Run",
		trace.WithAttributes(
			attribute.String("phase.id", p.ID),
			attribute.String("phase.mode", string(p.mode())),
			attribute.Int("phase.tasks", len(p.Tasks)),
		),
	)
	defer span.End()

	start := time.Now()
	r.logger.Info(ctx, "phase started",
		zap.String("mode", string(p.mode())),
		zap.Int("tasks", len(p.Tasks)),
	)

	var results []TaskResult
	if p.mode() == ModeParallel {
		results = r.runParallel(ctx, p, view)
	} else {
		results = r.runSequential(ctx, p, view)
	}

	res, err := r.join(ctx, p, results)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "phase failed")
		r.logger.Warn(ctx, "phase failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return nil, err
	}

	span.SetAttributes(attribute.Int("phase.optional_failures", len(res.Failures)))
	r.logger.Info(ctx, "phase completed",
		zap.Int("artifacts", len(res.Artifacts)),
		zap.Int("findings", len(res.Findings)),
		zap.Int("optional_failures", len(res.Failures)),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (p Phase) mode() Mode {
	if p.Mode == "" {
		return ModeSequential
	}
	return p.Mode
}

// runSequential runs tasks in order. Later tasks may bind earlier outputs.
// After a required failure, or once ctx is done, remaining tasks are skipped.
func (r *Runner) runSequential(ctx context.Context, p Phase, view runstate.Snapshot) []TaskResult {
	results := make([]TaskResult, len(p.Tasks))
	outputs := make(map[string]map[string]any, len(p.Tasks))
	stopped := false

	for i, t := range p.Tasks {
		if stopped || ctx.Err() != nil {
			results[i] = skipped(t)
			continue
		}
		results[i] = r.runTask(ctx, p.ID, t, outputs, view)
		if results[i].Status == TaskSucceeded {
			outputs[t.ID] = results[i].Output
		} else if !t.IsOptional() {
			stopped = true
		}
	}
	return results
}

// runParallel dispatches every task concurrently and waits for all of
// them. Each task writes only its own slot.
func (r *Runner) runParallel(ctx context.Context, p Phase, view runstate.Snapshot) []TaskResult {
	results := make([]TaskResult, len(p.Tasks))

	limit := p.MaxParallelism
	if limit <= 0 {
		limit = r.maxParallelism
	}
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, t := range p.Tasks {
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = skipped(t)
				return nil
			}
			results[i] = r.runTask(ctx, p.ID, t, nil, view)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func skipped(t Task) TaskResult {
	return TaskResult{TaskID: t.ID, Kind: t.Kind, Optional: t.IsOptional(), Status: TaskSkipped}
}

func (r *Runner) runTask(ctx context.Context, phaseID string, t Task, outputs map[string]map[string]any, view runstate.Snapshot) TaskResult {
	ctx = logging.WithTaskID(ctx, t.ID)
	res := TaskResult{TaskID: t.ID, Kind: t.Kind, Optional: t.IsOptional(), Status: TaskFailed}

	c, err := r.contracts.Lookup(t.Kind)
	if err != nil {
		res.Err = &contractError{Kind: t.Kind, Cause: err}
		return res
	}

	input, err := bindInput(t, outputs, view)
	if err != nil {
		res.Err = err
		r.logger.Warn(ctx, "task input binding failed", zap.Error(err))
		return res
	}

	out := r.dispatcher.Dispatch(ctx, c, dispatch.Invocation{
		TaskID:  t.ID,
		RunID:   logging.RunIDFromContext(ctx),
		Input:   input,
		Timeout: t.Timeout,
	})
	res.CorrelationID = out.CorrelationID
	res.Duration = out.Duration
	if out.Err != nil {
		res.Err = out.Err
		return res
	}

	res.Output = out.Output
	res.Status = TaskSucceeded
	return res
}

// join projects succeeded outputs in declaration order and decides whether
// the phase failed.
func (r *Runner) join(ctx context.Context, p Phase, results []TaskResult) (*Result, error) {
	res := &Result{
		Phase:   p.ID,
		Metrics: make(map[string]float64),
		Labels:  make(map[string]string),
	}
	var failed []runstate.TaskFailure
	var causes []error

	for i := range results {
		tr := &results[i]
		if tr.Status == TaskSucceeded {
			c, err := project(p.ID, p.Tasks[i], tr.Output)
			if err != nil {
				if de, ok := dispatch.AsError(err); ok {
					de.CorrelationID = tr.CorrelationID
				}
				tr.Status, tr.Err = TaskFailed, err
			} else {
				res.Artifacts = append(res.Artifacts, c.artifacts...)
				res.Findings = append(res.Findings, c.findings...)
				maps.Copy(res.Metrics, c.metrics)
				maps.Copy(res.Labels, c.labels)
				continue
			}
		}

		f := tr.failure(p.ID)
		failed = append(failed, f)
		if !tr.Optional && tr.Err != nil {
			causes = append(causes, tr.Err)
		}
		r.logger.Warn(logging.WithTaskID(ctx, tr.TaskID), "task failed",
			zap.String("kind", tr.Kind),
			zap.String("reason", f.Reason),
			zap.Bool("optional", tr.Optional),
			zap.Error(tr.Err),
		)
	}
	res.TaskResults = results

	requiredFailed := false
	for _, f := range failed {
		if !f.Optional {
			requiredFailed = true
			break
		}
	}
	if ctx.Err() != nil {
		causes = append(causes, ctx.Err())
		requiredFailed = requiredFailed || len(failed) > 0
	}
	if requiredFailed {
		return nil, &PhaseFailedError{Phase: p.ID, Failed: failed, Causes: causes}
	}

	res.Failures = failed
	return res, nil
}
