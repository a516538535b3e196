package breakpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assessd/internal/config"
	"github.com/fyrsmithlabs/assessd/internal/logging"
	"github.com/fyrsmithlabs/assessd/internal/runstate"
	"github.com/fyrsmithlabs/assessd/internal/secrets"
)

// Resolver accepts decisions. Channels that receive decisions from outside
// the process forward them to a Resolver.
type Resolver interface {
	Resolve(id string, d Decision) error
}

// Controller owns every breakpoint raised in the process and enforces at
// most one pending breakpoint per run.
type Controller struct {
	mu           sync.Mutex
	entries      map[string]*entry
	pendingByRun map[string]string
	// settled holds the ids of terminal entries, oldest first.
	settled []string
	retain  int

	channel        Channel
	scrubber       secrets.Scrubber
	defaultTimeout time.Duration
	logger         *logging.Logger
	metrics        *Metrics
	now            func() time.Time
}

type entry struct {
	bp        *Breakpoint
	validator PayloadValidator
	done      chan struct{}
}

// Option configures a Controller.
type Option func(*Controller)

// WithChannel sets where breakpoints are published.
func WithChannel(ch Channel) Option {
	return func(c *Controller) { c.channel = ch }
}

// WithScrubber redacts secrets from breakpoint context before publication.
func WithScrubber(s secrets.Scrubber) Option {
	return func(c *Controller) { c.scrubber = s }
}

// WithDefaultTimeout bounds every wait that sets no timeout of its own.
// Zero waits indefinitely.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Controller) { c.defaultTimeout = d }
}

// WithRetention caps how many settled breakpoints Get still returns.
// Older ones are forgotten; pending breakpoints are always kept.
func WithRetention(n int) Option {
	return func(c *Controller) { c.retain = max(n, 0) }
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = logging.FromZap(l) }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// ConfigOptions translates the breakpoint config section into options.
// Channels are wired by the caller.
func ConfigOptions(cfg config.BreakpointConfig) ([]Option, error) {
	opts := []Option{
		WithDefaultTimeout(cfg.Timeout.Duration()),
		WithRetention(cfg.Retain),
	}
	if cfg.ScrubSecrets {
		sc := secrets.DefaultConfig()
		sc.AllowList = cfg.SecretAllowList
		s, err := secrets.New(sc)
		if err != nil {
			return nil, fmt.Errorf("create scrubber: %w", err)
		}
		opts = append(opts, WithScrubber(s))
	}
	return opts, nil
}

// Scrubber returns the scrubber applied to breakpoint context, so other
// reviewer-facing surfaces can share it.
func (c *Controller) Scrubber() secrets.Scrubber {
	return c.scrubber
}

const defaultRetention = 256

// NewController creates a controller. Without a channel, breakpoints are
// only visible through Pending and Get.
func NewController(opts ...Option) *Controller {
	c := &Controller{
		entries:      make(map[string]*entry),
		pendingByRun: make(map[string]string),
		channel:      nopChannel{},
		scrubber:     secrets.NoopScrubber{},
		logger:       logging.NewNop(),
		metrics:      NewMetrics(nil),
		now:          time.Now,
		retain:       defaultRetention,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Raise creates a breakpoint, publishes it and returns a handle to wait on.
// It fails with ErrConcurrentBreakpoint while another breakpoint of the same
// run is awaiting resolution.
func (c *Controller) Raise(ctx context.Context, req Request) (*Handle, error) {
	if req.RunID == "" {
		return nil, errors.New("raise breakpoint: run id is required")
	}
	actions := req.Actions
	if len(actions) == 0 {
		actions = DefaultActions()
	}
	for _, a := range actions {
		if !a.valid() {
			return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidDecision, a)
		}
	}

	var scrubbed map[string]any
	var report secrets.Report
	if req.Context != nil {
		v, r := c.scrubber.ScrubValue(runstate.CloneValue(req.Context))
		scrubbed, _ = v.(map[string]any)
		report = r
	}

	bp := &Breakpoint{
		ID:              uuid.NewString(),
		RunID:           req.RunID,
		Phase:           req.Phase,
		Gate:            req.Gate,
		Title:           req.Title,
		Question:        req.Question,
		Context:         scrubbed,
		ReferencedFiles: append([]File(nil), req.ReferencedFiles...),
		Actions:         append([]Action(nil), actions...),
		Status:          StatusCreated,
		CreatedAt:       c.now(),
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	if timeout > 0 {
		deadline := bp.CreatedAt.Add(timeout)
		bp.Deadline = &deadline
	}

	c.mu.Lock()
	if pendingID, ok := c.pendingByRun[req.RunID]; ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: run %s has pending breakpoint %s", ErrConcurrentBreakpoint, req.RunID, pendingID)
	}
	if err := bp.transition(StatusAwaiting); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	e := &entry{bp: bp, validator: req.Validator, done: make(chan struct{})}
	c.entries[bp.ID] = e
	c.pendingByRun[req.RunID] = bp.ID
	published := bp.clone()
	c.mu.Unlock()

	c.metrics.Raised.Inc()
	c.metrics.Pending.Inc()

	h := &Handle{c: c, e: e, deadline: bp.Deadline}
	if err := c.channel.Publish(ctx, published); err != nil {
		if ferr := c.finish(e, StatusCancelled, nil); ferr != nil {
			// A reviewer settled it through another surface while the
			// publish was in flight. That outcome stands.
			c.logger.Warn(ctx, "breakpoint settled before publish failed",
				zap.String("breakpoint.id", bp.ID), zap.Error(err))
			return h, nil
		}
		return nil, fmt.Errorf("publish breakpoint %s: %w", bp.ID, err)
	}

	c.logger.Info(ctx, "breakpoint raised",
		zap.String("breakpoint.id", bp.ID),
		zap.String("gate", req.Gate),
		zap.Int("redactions", report.Redactions),
	)
	return h, nil
}

// Resolve applies a decision to a pending breakpoint. A modify payload
// rejected by the request's validator leaves the breakpoint pending.
func (c *Controller) Resolve(id string, d Decision) error {
	if !d.Action.valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidDecision, d.Action)
	}

	c.mu.Lock()
	e, ok := c.entries[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBreakpointNotFound, id)
	}
	switch e.bp.Status {
	case StatusAwaiting:
	case StatusResolved:
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
	default:
		status := e.bp.Status
		c.mu.Unlock()
		return fmt.Errorf("%w: breakpoint %s is %s", ErrInvalidTransition, id, status)
	}
	if !e.bp.offers(d.Action) {
		c.mu.Unlock()
		return fmt.Errorf("%w: action %q not offered", ErrInvalidDecision, d.Action)
	}
	validator := e.validator
	c.mu.Unlock()

	if d.Action == ActionModify && validator != nil {
		if err := validator(d.Payload); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidModifyPayload, err)
		}
	}

	res := &Resolution{Decision: d, BreakpointID: id, ResolvedAt: c.now()}
	if d.Payload != nil {
		res.Decision.Payload = runstate.CloneValue(d.Payload).(map[string]any)
	}
	if err := c.finish(e, StatusResolved, res); err != nil {
		// Lost a race with another resolution, a timeout or a cancellation.
		if errors.Is(err, ErrInvalidTransition) {
			c.mu.Lock()
			status := e.bp.Status
			c.mu.Unlock()
			if status == StatusResolved {
				return fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
			}
		}
		return err
	}
	return nil
}

// finish moves a pending breakpoint to a terminal status and wakes waiters.
func (c *Controller) finish(e *entry, to Status, res *Resolution) error {
	c.mu.Lock()
	if err := e.bp.transition(to); err != nil {
		c.mu.Unlock()
		return err
	}
	id := e.bp.ID
	e.bp.Resolution = res
	if c.pendingByRun[e.bp.RunID] == id {
		delete(c.pendingByRun, e.bp.RunID)
	}
	close(e.done)
	settled := e.bp.clone()
	c.forget(id)
	c.mu.Unlock()

	outcome := string(to)
	if res != nil {
		outcome = string(res.Action)
	}
	c.metrics.Pending.Dec()
	c.metrics.Outcomes.WithLabelValues(outcome).Inc()
	c.metrics.WaitSeconds.Observe(c.now().Sub(settled.CreatedAt).Seconds())

	ctx := logging.WithRunID(context.Background(), settled.RunID)
	if err := c.channel.Settle(ctx, settled); err != nil {
		c.logger.Warn(ctx, "failed to announce breakpoint outcome",
			zap.String("breakpoint.id", id), zap.Error(err))
	}
	c.logger.Info(ctx, "breakpoint settled",
		zap.String("breakpoint.id", id),
		zap.String("status", string(to)),
		zap.String("outcome", outcome),
	)
	return nil
}

// forget records id as settled and drops the oldest settled entries beyond
// the retention limit. Callers hold c.mu.
func (c *Controller) forget(id string) {
	c.settled = append(c.settled, id)
	for len(c.settled) > c.retain {
		delete(c.entries, c.settled[0])
		c.settled[0] = ""
		c.settled = c.settled[1:]
	}
}

// Get returns a copy of the breakpoint.
func (c *Controller) Get(id string) (*Breakpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBreakpointNotFound, id)
	}
	return e.bp.clone(), nil
}

// Pending returns copies of all breakpoints awaiting resolution, oldest first.
func (c *Controller) Pending() []*Breakpoint {
	c.mu.Lock()
	out := make([]*Breakpoint, 0, len(c.pendingByRun))
	for _, id := range c.pendingByRun {
		out = append(out, c.entries[id].bp.clone())
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Handle is the raiser's side of a breakpoint.
type Handle struct {
	c        *Controller
	e        *entry
	deadline *time.Time
}

// ID returns the breakpoint id.
func (h *Handle) ID() string { return h.e.bp.ID }

// Wait blocks until the breakpoint is resolved, times out or ctx is done.
// Timing out or cancelling moves the breakpoint to its terminal state.
func (h *Handle) Wait(ctx context.Context) (Resolution, error) {
	var timeout <-chan time.Time
	if h.deadline != nil {
		timer := time.NewTimer(time.Until(*h.deadline))
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-h.e.done:
		return h.outcome()
	case <-timeout:
		if err := h.c.finish(h.e, StatusTimedOut, nil); err != nil {
			return h.outcome()
		}
		return Resolution{}, fmt.Errorf("%w: %s", ErrBreakpointTimedOut, h.ID())
	case <-ctx.Done():
		if err := h.c.finish(h.e, StatusCancelled, nil); err != nil {
			return h.outcome()
		}
		return Resolution{}, fmt.Errorf("%w: %w", ErrBreakpointCancelled, ctx.Err())
	}
}

// outcome reads the settled entry directly; it may no longer be retained.
func (h *Handle) outcome() (Resolution, error) {
	h.c.mu.Lock()
	bp := h.e.bp.clone()
	h.c.mu.Unlock()

	switch bp.Status {
	case StatusResolved:
		return *bp.Resolution, nil
	case StatusTimedOut:
		return Resolution{}, fmt.Errorf("%w: %s", ErrBreakpointTimedOut, bp.ID)
	default:
		return Resolution{}, fmt.Errorf("%w: %s", ErrBreakpointCancelled, bp.ID)
	}
}
