package orchestrator

import (
	"errors"
	"fmt"
)

// Terminal run errors. *RunError matches the one for its status.
var (
	// ErrRunAborted means a reviewer rejected a breakpoint, or a breakpoint
	// timed out without a decision.
	ErrRunAborted = errors.New("run aborted")
	// ErrRunFailed means a required task, a phase or the breakpoint
	// machinery failed.
	ErrRunFailed = errors.New("run failed")
	// ErrRunCancelled means the run's context was cancelled.
	ErrRunCancelled = errors.New("run cancelled")
)

// Execute errors returned before a run exists.
var (
	ErrRunInProgress = errors.New("orchestrator already has an active run")
	ErrNoPhases      = errors.New("process definition has no phases")
)

// ErrRejected is the cause of an abort by reviewer decision.
var ErrRejected = errors.New("rejected by reviewer")

// RunError reports why a run did not complete.
type RunError struct {
	RunID  string
	Status Status
	// Phase is the phase the run stopped in, empty if none had started.
	Phase string
	Cause error
}

func (e *RunError) Error() string {
	where := ""
	if e.Phase != "" {
		where = " in phase " + e.Phase
	}
	if e.Cause == nil {
		return fmt.Sprintf("run %s %s%s", e.RunID, e.Status, where)
	}
	return fmt.Sprintf("run %s %s%s: %v", e.RunID, e.Status, where, e.Cause)
}

// Unwrap exposes the cause.
func (e *RunError) Unwrap() error { return e.Cause }

// Is matches the sentinel for e.Status.
func (e *RunError) Is(target error) bool {
	switch target {
	case ErrRunAborted:
		return e.Status == StatusAborted
	case ErrRunFailed:
		return e.Status == StatusFailed
	case ErrRunCancelled:
		return e.Status == StatusCancelled
	}
	return false
}
