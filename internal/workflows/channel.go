package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/fyrsmithlabs/assessd/internal/breakpoint"
)

// WorkflowID returns the review workflow id of a breakpoint.
func WorkflowID(breakpointID string) string {
	return "breakpoint-review-" + breakpointID
}

// TemporalChannel publishes breakpoints by starting a ReviewWorkflow per
// breakpoint. Reviewers resolve by signalling the workflow (see Resolve).
type TemporalChannel struct {
	client    client.Client
	taskQueue string
}

// NewTemporalChannel returns a channel starting workflows on taskQueue.
func NewTemporalChannel(c client.Client, taskQueue string) *TemporalChannel {
	return &TemporalChannel{client: c, taskQueue: taskQueue}
}

// Publish implements breakpoint.Channel.
func (t *TemporalChannel) Publish(ctx context.Context, bp *breakpoint.Breakpoint) error {
	var timeout time.Duration
	if bp.Deadline != nil {
		timeout = bp.Deadline.Sub(bp.CreatedAt)
	}
	opts := client.StartWorkflowOptions{
		ID:        WorkflowID(bp.ID),
		TaskQueue: t.taskQueue,
	}
	_, err := t.client.ExecuteWorkflow(ctx, opts, ReviewWorkflow, ReviewInput{
		BreakpointID: bp.ID,
		RunID:        bp.RunID,
		Title:        bp.Title,
		Question:     bp.Question,
		Actions:      bp.Actions,
		Timeout:      timeout,
	})
	if err != nil {
		return fmt.Errorf("start review workflow: %w", err)
	}
	return nil
}

// Settle implements breakpoint.Channel. Workflows that already finished
// are ignored.
func (t *TemporalChannel) Settle(ctx context.Context, bp *breakpoint.Breakpoint) error {
	err := t.client.SignalWorkflow(ctx, WorkflowID(bp.ID), "", SignalSettled, string(bp.Status))
	var notFound *serviceerror.NotFound
	if err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("signal review workflow: %w", err)
	}
	return nil
}

// Resolve sends a reviewer decision to the review workflow of a breakpoint.
func Resolve(ctx context.Context, c client.Client, breakpointID string, d breakpoint.Decision) error {
	if err := c.SignalWorkflow(ctx, WorkflowID(breakpointID), "", SignalResolve, d); err != nil {
		return fmt.Errorf("signal review workflow: %w", err)
	}
	return nil
}

// Register registers the review workflow and its activities on w.
func Register(w worker.Registry, activities *ReviewActivities) {
	w.RegisterWorkflow(ReviewWorkflow)
	w.RegisterActivity(activities)
}
