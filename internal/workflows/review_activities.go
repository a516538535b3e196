package workflows

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/fyrsmithlabs/assessd/internal/breakpoint"
)

// ApplyDecisionInput is the input of ApplyDecision.
type ApplyDecisionInput struct {
	BreakpointID string
	Decision     breakpoint.Decision
}

// ReviewActivities holds the dependencies of review activities. Register a
// value with the worker; workflows refer to its methods through a nil
// pointer.
type ReviewActivities struct {
	Resolver breakpoint.Resolver

	// metrics defaults to instruments on the global meter provider.
	metrics *activityMetrics
}

// ApplyDecision hands a reviewer decision to the breakpoint controller.
func (a *ReviewActivities) ApplyDecision(ctx context.Context, in ApplyDecisionInput) error {
	logger := activity.GetLogger(ctx)
	start := time.Now()

	err := a.Resolver.Resolve(in.BreakpointID, in.Decision)
	if err != nil {
		err = classifyResolveError(err)
		logger.Warn("Controller refused decision", "breakpoint", in.BreakpointID, "error", err)
	} else {
		logger.Info("Decision applied", "breakpoint", in.BreakpointID, "decision", in.Decision.Action)
	}

	m := a.metrics
	if m == nil {
		var merr error
		if m, merr = globalActivityMetrics(); merr != nil {
			logger.Warn("Review metrics unavailable", "error", merr)
		}
	}
	if m != nil {
		m.record(ctx, string(in.Decision.Action), time.Since(start), err)
	}
	return err
}
