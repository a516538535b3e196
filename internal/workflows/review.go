// Package workflows provides the durable Temporal review workflow for
// breakpoints.
package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/assessd/internal/breakpoint"
)

// Signal and query names of ReviewWorkflow.
const (
	// SignalResolve carries a breakpoint.Decision from a reviewer.
	SignalResolve = "resolve"
	// SignalSettled carries the terminal breakpoint.Status when the
	// controller settles the breakpoint on its own (timeout, cancellation).
	SignalSettled = "settled"
	// QueryStatus returns the current ReviewResult.
	QueryStatus = "status"
)

// ReviewStatus is the state of a review.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewResolved ReviewStatus = "resolved"
	ReviewTimedOut ReviewStatus = "timed_out"
	ReviewSettled  ReviewStatus = "settled"
)

// ReviewInput starts a review of one breakpoint.
type ReviewInput struct {
	BreakpointID string
	RunID        string
	Title        string
	Question     string
	Actions      []breakpoint.Action
	// Timeout of zero waits until a decision or a settled signal arrives.
	Timeout time.Duration
}

// ReviewResult is the workflow's result and query answer.
type ReviewResult struct {
	BreakpointID string
	RunID        string
	Status       ReviewStatus
	Decision     *breakpoint.Decision
	// Outcome is the controller status reported by a settled signal.
	Outcome string
	// Refused lists decisions the controller rejected while the
	// breakpoint stayed pending.
	Refused []string
}

// ReviewWorkflow waits for a reviewer decision and delivers it to the
// breakpoint controller through the ApplyDecision activity.
//
// The workflow ends when:
//   - a decision is accepted by the controller
//   - the controller reports the breakpoint closed (settled signal, or an
//     ApplyDecision answer saying it no longer accepts decisions)
//   - the optional timer fires
//
// Decisions the controller refuses (invalid action, bad modify payload) are
// recorded and the workflow keeps waiting.
func ReviewWorkflow(ctx workflow.Context, input ReviewInput) (*ReviewResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting breakpoint review",
		"breakpoint", input.BreakpointID,
		"run", input.RunID,
		"timeout", input.Timeout)

	state := &ReviewResult{
		BreakpointID: input.BreakpointID,
		RunID:        input.RunID,
		Status:       ReviewPending,
	}
	if err := workflow.SetQueryHandler(ctx, QueryStatus, func() (ReviewResult, error) {
		return *state, nil
	}); err != nil {
		return nil, err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: []string{ErrTypeDecisionRefused, ErrTypeBreakpointClosed},
		},
	}
	actx := workflow.WithActivityOptions(ctx, ao)

	resolveCh := workflow.GetSignalChannel(ctx, SignalResolve)
	settledCh := workflow.GetSignalChannel(ctx, SignalSettled)

	var timer workflow.Future
	if input.Timeout > 0 {
		timerCtx, cancelTimer := workflow.WithCancel(ctx)
		defer cancelTimer()
		timer = workflow.NewTimer(timerCtx, input.Timeout)
	}

	var a *ReviewActivities
	for state.Status == ReviewPending {
		var pending *breakpoint.Decision

		selector := workflow.NewSelector(ctx)
		selector.AddReceive(resolveCh, func(c workflow.ReceiveChannel, _ bool) {
			var d breakpoint.Decision
			c.Receive(ctx, &d)
			pending = &d
		})
		selector.AddReceive(settledCh, func(c workflow.ReceiveChannel, _ bool) {
			var outcome string
			c.Receive(ctx, &outcome)
			state.Status = ReviewSettled
			state.Outcome = outcome
		})
		if timer != nil {
			selector.AddFuture(timer, func(f workflow.Future) {
				if f.Get(ctx, nil) == nil {
					state.Status = ReviewTimedOut
				}
			})
		}
		selector.Select(ctx)

		if pending == nil {
			continue
		}

		err := workflow.ExecuteActivity(actx, a.ApplyDecision, ApplyDecisionInput{
			BreakpointID: input.BreakpointID,
			Decision:     *pending,
		}).Get(actx, nil)
		switch applicationErrorType(err) {
		case "":
			if err != nil {
				return state, applyFailed(input.BreakpointID, err)
			}
			state.Status = ReviewResolved
			state.Decision = pending
		case ErrTypeDecisionRefused:
			logger.Warn("Decision refused, still waiting", "breakpoint", input.BreakpointID, "error", err)
			state.Refused = append(state.Refused, err.Error())
		case ErrTypeBreakpointClosed:
			logger.Info("Breakpoint no longer accepts decisions", "breakpoint", input.BreakpointID)
			state.Status = ReviewSettled
		default:
			return state, applyFailed(input.BreakpointID, err)
		}
	}

	logger.Info("Breakpoint review complete",
		"breakpoint", input.BreakpointID,
		"status", state.Status)
	return state, nil
}
