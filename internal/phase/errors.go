package phase

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/assessd/internal/runstate"
)

// ErrPhaseFailed is matched by *PhaseFailedError.
var ErrPhaseFailed = errors.New("phase failed")

// PhaseFailedError reports a phase in which at least one required task
// failed. Failed lists every failed or skipped task, optional ones included.
type PhaseFailedError struct {
	Phase  string
	Failed []runstate.TaskFailure
	// Causes are the errors of the failed required tasks, plus the context
	// error when the phase was cancelled.
	Causes []error
}

func (e *PhaseFailedError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		if f.Optional {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", f.TaskID, f.Reason))
	}
	return fmt.Sprintf("phase %s failed: %s", e.Phase, strings.Join(parts, ", "))
}

// Is matches ErrPhaseFailed.
func (e *PhaseFailedError) Is(target error) bool { return target == ErrPhaseFailed }

// Unwrap exposes the causes to errors.Is and errors.As.
func (e *PhaseFailedError) Unwrap() []error { return e.Causes }

// bindingError means an input binding could not be resolved.
type bindingError struct {
	Field string
	From  string
}

func (e *bindingError) Error() string {
	return fmt.Sprintf("input %q: binding source %q is not available", e.Field, e.From)
}

func asBindingError(err error, target **bindingError) bool { return errors.As(err, target) }

// contractError means the task's contract kind is not registered.
type contractError struct {
	Kind  string
	Cause error
}

func (e *contractError) Error() string {
	return fmt.Sprintf("contract %q: %v", e.Kind, e.Cause)
}

func (e *contractError) Unwrap() error { return e.Cause }

func asContractError(err error, target **contractError) bool { return errors.As(err, target) }
