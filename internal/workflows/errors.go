package workflows

import (
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"

	"github.com/fyrsmithlabs/assessd/internal/breakpoint"
)

// Application error types returned by ApplyDecision. Neither is retried:
// the controller would give the same answer.
const (
	// ErrTypeDecisionRefused: the decision was invalid and the breakpoint
	// still awaits one.
	ErrTypeDecisionRefused = "DecisionRefused"

	// ErrTypeBreakpointClosed: the breakpoint is resolved, settled or
	// unknown and takes no more decisions.
	ErrTypeBreakpointClosed = "BreakpointClosed"
)

// classifyResolveError maps controller errors onto non-retryable
// application errors. Anything else is returned as is and retried.
func classifyResolveError(err error) error {
	var kind string
	switch {
	case errors.Is(err, breakpoint.ErrInvalidDecision),
		errors.Is(err, breakpoint.ErrInvalidModifyPayload):
		kind = ErrTypeDecisionRefused
	case errors.Is(err, breakpoint.ErrAlreadyResolved),
		errors.Is(err, breakpoint.ErrInvalidTransition),
		errors.Is(err, breakpoint.ErrBreakpointNotFound):
		kind = ErrTypeBreakpointClosed
	default:
		return err
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), kind, err)
}

// applicationErrorType returns the type of the first Temporal application
// error in err's chain, or "".
func applicationErrorType(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Type()
	}
	return ""
}

// applyFailed wraps an ApplyDecision failure that ends the workflow.
func applyFailed(breakpointID string, err error) error {
	return fmt.Errorf("apply_decision for breakpoint %s: %w", breakpointID, err)
}
