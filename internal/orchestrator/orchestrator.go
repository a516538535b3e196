package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assessd/internal/breakpoint"
	"github.com/fyrsmithlabs/assessd/internal/gate"
	"github.com/fyrsmithlabs/assessd/internal/logging"
	"github.com/fyrsmithlabs/assessd/internal/phase"
	"github.com/fyrsmithlabs/assessd/internal/process"
	"github.com/fyrsmithlabs/assessd/internal/runstate"
)

// PhaseRunner executes one phase against a read-only view of the run.
type PhaseRunner interface {
	Run(ctx context.Context, p phase.Phase, view runstate.Snapshot) (*phase.Result, error)
}

// Breakpoints raises suspension points.
type Breakpoints interface {
	Raise(ctx context.Context, req breakpoint.Request) (*breakpoint.Handle, error)
}

// Orchestrator drives one process run at a time.
type Orchestrator struct {
	runner      PhaseRunner
	breakpoints Breakpoints
	evaluator   *gate.Evaluator
	archiver    Archiver
	progress    ProgressCallback
	logger      *logging.Logger
	tracer      trace.Tracer
	metrics     *Metrics
	now         func() time.Time

	mu      sync.Mutex
	current *Run
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithArchiver receives every terminal run.
func WithArchiver(a Archiver) Option {
	return func(o *Orchestrator) { o.archiver = a }
}

// WithProgress sets the progress callback.
func WithProgress(cb ProgressCallback) Option {
	return func(o *Orchestrator) { o.progress = cb }
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logging.FromZap(l) }
}

// WithTracer sets the tracer used for run spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithMetrics sets the instruments used to record runs.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator.
func New(runner PhaseRunner, bps Breakpoints, opts ...Option) *Orchestrator {
	metrics, _ := NewMetrics(nil)
	o := &Orchestrator{
		runner:      runner,
		breakpoints: bps,
		evaluator:   gate.NewEvaluator(),
		logger:      logging.NewNop(),
		tracer:      otel.Tracer(InstrumentationName),
		metrics:     metrics,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Current returns the run in progress, or nil.
func (o *Orchestrator) Current() *Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Execute runs def to a terminal status.
//
// The Run is returned for every outcome once it has started. The error is
// nil only for a completed run; otherwise it is a *RunError matching
// ErrRunAborted, ErrRunFailed or ErrRunCancelled. Errors returned with a
// nil Run mean no run was started.
func (o *Orchestrator) Execute(ctx context.Context, def *process.Definition) (*Run, error) {
	if def == nil || len(def.Phases) == 0 {
		return nil, ErrNoPhases
	}

	o.mu.Lock()
	if o.current != nil {
		o.mu.Unlock()
		return nil, ErrRunInProgress
	}
	def = def.Clone()
	run := newRun(def.Name, len(def.Phases), o.now())
	o.current = run
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.current = nil
		o.mu.Unlock()
	}()

	ctx = logging.WithRunID(ctx, run.ID)
	ctx, span := o.tracer.Start(ctx, "orchestrator.Execute",
		trace.WithAttributes(
			attribute.String("run.id", run.ID),
			attribute.String("process.name", def.Name),
			attribute.Int("process.phases", len(def.Phases)),
		),
	)
	defer span.End()

	if err := run.transition(StatusRunning); err != nil {
		return run, err
	}
	o.metrics.runStarted(ctx)
	o.logger.Info(ctx, "run started",
		zap.String("process", def.Name),
		zap.String("version", def.Version),
		zap.Int("phases", len(def.Phases)),
	)
	o.report(run, EventRunStarted, "", fmt.Sprintf("Starting %s", def.Name))

	runErr := o.walk(ctx, run, def)

	status := StatusCompleted
	var err error
	if runErr != nil {
		status, err = runErr.Status, runErr
		span.RecordError(runErr)
		span.SetStatus(codes.Error, string(status))
	}
	if endErr := run.end(status, err, o.now()); endErr != nil {
		return run, endErr
	}
	span.SetAttributes(attribute.String("run.status", string(status)))
	o.metrics.runFinished(ctx, status)

	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Duration("duration", run.EndedAt().Sub(run.StartedAt)),
	}
	if runErr != nil {
		o.logger.Warn(ctx, "run finished", append(fields, zap.String("phase", runErr.Phase), zap.Error(runErr.Cause))...)
	} else {
		o.logger.Info(ctx, "run finished", fields...)
	}
	o.report(run, EventRunFinished, "", fmt.Sprintf("Run %s", status))
	o.archive(ctx, run)

	if runErr != nil {
		return run, runErr
	}
	return run, nil
}

// walk advances the cursor through every phase. It returns nil when the
// last phase completes with no unresolved gate.
func (o *Orchestrator) walk(ctx context.Context, run *Run, def *process.Definition) *RunError {
	var thresholds map[string]float64

	for i, st := range def.Phases {
		if err := ctx.Err(); err != nil {
			return o.runError(run, StatusCancelled, "", err)
		}
		if err := run.advance(i, st.ID); err != nil {
			return o.runError(run, StatusFailed, st.ID, err)
		}

		pctx := logging.WithPhase(ctx, st.ID)
		o.report(run, EventPhaseStarted, st.ID, fmt.Sprintf("Starting phase: %s", st.ID))

		res, err := o.runner.Run(pctx, st.Phase, run.State.Snapshot())
		if err != nil {
			var pf *phase.PhaseFailedError
			if errors.As(err, &pf) {
				run.State.RecordFailures(pf.Failed...)
			}
			if ctx.Err() != nil {
				o.metrics.phaseFinished(ctx, st.ID, string(StatusCancelled))
				return o.runError(run, StatusCancelled, st.ID, err)
			}
			o.metrics.phaseFinished(ctx, st.ID, string(StatusFailed))
			return o.runError(run, StatusFailed, st.ID, err)
		}

		run.State.Fold(res.Delta())
		outcome := "completed"
		if res.Degraded() {
			outcome = "degraded"
		}
		o.metrics.phaseFinished(ctx, st.ID, outcome)

		if rerr := o.afterPhase(pctx, run, def, st, &thresholds); rerr != nil {
			return rerr
		}
		o.report(run, EventPhaseCompleted, st.ID, fmt.Sprintf("Completed phase: %s", st.ID))
	}
	return nil
}

// afterPhase evaluates the phase's gates and raises its breakpoints.
func (o *Orchestrator) afterPhase(ctx context.Context, run *Run, def *process.Definition, st process.Stage, thresholds *map[string]float64) *RunError {
	var verdicts []gate.Verdict
	if len(st.Gates) > 0 {
		verdicts = o.evaluator.EvaluateAll(applyThresholds(st.Gates, *thresholds), run.State.Snapshot())
		run.recordGates(st.ID, verdicts)
		o.metrics.gatesEvaluated(ctx, verdicts)
		for _, v := range verdicts {
			if v.Status == gate.StatusPass {
				continue
			}
			o.logger.Warn(ctx, "gate did not pass",
				zap.String("gate", v.GateID),
				zap.String("verdict", string(v.Status)),
				zap.String("rationale", v.Rationale),
			)
		}
		o.report(run, EventGatesEvaluated, st.ID, fmt.Sprintf("Gates after %s: %s", st.ID, gate.Worst(verdicts)))
	}

	if blocking := gate.Blocking(verdicts); len(blocking) > 0 {
		spec, _ := st.OnBlock()
		req := blockRequest(run, st, spec, blocking, verdicts)
		if rerr := o.suspend(ctx, run, def, st.ID, req, thresholds); rerr != nil {
			return rerr
		}
	}

	for _, spec := range st.Always() {
		req := checkpointRequest(run, st, spec, verdicts)
		if rerr := o.suspend(ctx, run, def, st.ID, req, thresholds); rerr != nil {
			return rerr
		}
	}
	return nil
}

// suspend raises req, waits for its decision and applies it.
func (o *Orchestrator) suspend(ctx context.Context, run *Run, def *process.Definition, phaseID string, req breakpoint.Request, thresholds *map[string]float64) *RunError {
	req.Validator = func(payload map[string]any) error {
		_, err := parseOverrides(payload, def)
		return err
	}

	raised := o.now()
	h, err := o.breakpoints.Raise(ctx, req)
	if err != nil {
		return o.runError(run, StatusFailed, phaseID, fmt.Errorf("raise breakpoint: %w", err))
	}
	o.report(run, EventBreakpointRaised, phaseID, fmt.Sprintf("Waiting on breakpoint %s: %s", h.ID(), req.Title))

	res, err := h.Wait(ctx)
	if err != nil {
		o.metrics.breakpointSettled(ctx, "none", o.now().Sub(raised))
		switch {
		case ctx.Err() != nil, errors.Is(err, breakpoint.ErrBreakpointCancelled):
			return o.runError(run, StatusCancelled, phaseID, err)
		case errors.Is(err, breakpoint.ErrBreakpointTimedOut):
			return o.runError(run, StatusAborted, phaseID, err)
		default:
			return o.runError(run, StatusFailed, phaseID, err)
		}
	}
	o.metrics.breakpointSettled(ctx, string(res.Action), o.now().Sub(raised))

	run.State.AppendAudit(runstate.AuditRecord{
		BreakpointID: res.BreakpointID,
		Phase:        phaseID,
		Gate:         req.Gate,
		Question:     req.Question,
		Decision:     string(res.Action),
		Payload:      res.Payload,
		Comment:      res.Comment,
		ResolvedBy:   res.ResolvedBy,
		ResolvedAt:   res.ResolvedAt,
	})
	o.logger.Info(ctx, "breakpoint resolved",
		zap.String("breakpoint.id", res.BreakpointID),
		zap.String("decision", string(res.Action)),
		zap.String("resolved_by", res.ResolvedBy),
	)
	o.report(run, EventBreakpointResolved, phaseID, fmt.Sprintf("Breakpoint %s: %s", res.BreakpointID, res.Action))

	switch res.Action {
	case breakpoint.ActionReject:
		return o.runError(run, StatusAborted, phaseID, fmt.Errorf("%w: breakpoint %s", ErrRejected, res.BreakpointID))
	case breakpoint.ActionModify:
		ov, err := parseOverrides(res.Payload, def)
		if err != nil {
			// The controller validated the payload already.
			return o.runError(run, StatusFailed, phaseID, fmt.Errorf("apply modify payload: %w", err))
		}
		o.apply(ctx, run, ov, thresholds)
	}
	return nil
}

func (o *Orchestrator) apply(ctx context.Context, run *Run, ov overrides, thresholds *map[string]float64) {
	for _, name := range sortedKeys(ov.metrics) {
		run.State.SetMetric(name, ov.metrics[name])
	}
	for _, name := range sortedKeys(ov.labels) {
		run.State.SetLabel(name, ov.labels[name])
	}
	if len(ov.thresholds) > 0 && *thresholds == nil {
		*thresholds = make(map[string]float64, len(ov.thresholds))
	}
	for id, t := range ov.thresholds {
		(*thresholds)[id] = t
	}
	o.logger.Info(ctx, "overrides applied",
		zap.Int("metrics", len(ov.metrics)),
		zap.Int("labels", len(ov.labels)),
		zap.Int("thresholds", len(ov.thresholds)),
	)
}

func (o *Orchestrator) runError(run *Run, status Status, phaseID string, cause error) *RunError {
	return &RunError{RunID: run.ID, Status: status, Phase: phaseID, Cause: cause}
}

func (o *Orchestrator) report(run *Run, ev Event, phaseID, msg string) {
	if o.progress == nil {
		return
	}
	cursor, _ := run.Cursor()
	done := cursor
	if ev == EventPhaseCompleted || ev == EventRunFinished && run.Status() == StatusCompleted {
		done = cursor + 1
	}
	if done < 0 {
		done = 0
	}
	o.progress(Progress{
		RunID:      run.ID,
		Event:      ev,
		Phase:      phaseID,
		Status:     run.Status(),
		Message:    msg,
		Percentage: done * 100 / run.phases,
	})
}

func (o *Orchestrator) archive(ctx context.Context, run *Run) {
	if o.archiver == nil {
		return
	}
	if err := o.archiver.Archive(ctx, run.Snapshot()); err != nil {
		o.logger.Warn(ctx, "failed to archive run", zap.Error(err))
	}
}
