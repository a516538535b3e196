package dispatch

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/assessd/internal/contract"
)

// Dispatch failure sentinels. *Error matches these with errors.Is.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidOutput   = errors.New("invalid output")
	ErrExecutionFailed = errors.New("execution failed")
)

// Record store errors.
var (
	ErrRecordNotFound = errors.New("invocation record not found")
)

// Kind classifies a dispatch failure.
type Kind string

const (
	KindInvalidInput    Kind = "invalid_input"
	KindInvalidOutput   Kind = "invalid_output"
	KindExecutionFailed Kind = "execution_failed"
)

// Reason refines KindExecutionFailed.
type Reason string

const (
	ReasonTimeout       Reason = "timeout"
	ReasonExecutorError Reason = "executor_error"
	ReasonCancelled     Reason = "cancelled"
	// ReasonRejected means the executor answered with success=false.
	ReasonRejected Reason = "rejected"
)

// Error is the typed failure carried by a Result.
type Error struct {
	Kind          Kind
	Reason        Reason
	ContractKind  string
	CorrelationID string
	Fields        contract.FieldErrors
	Cause         error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindInvalidInput, KindInvalidOutput:
		return fmt.Sprintf("%s for %q: %s", e.Kind, e.ContractKind, e.Fields.Error())
	default:
		if e.Cause != nil {
			return fmt.Sprintf("%s (%s) for %q: %v", e.Kind, e.Reason, e.ContractKind, e.Cause)
		}
		return fmt.Sprintf("%s (%s) for %q", e.Kind, e.Reason, e.ContractKind)
	}
}

// Unwrap exposes the executor's underlying error.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches the package sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalidInput:
		return e.Kind == KindInvalidInput
	case ErrInvalidOutput:
		return e.Kind == KindInvalidOutput
	case ErrExecutionFailed:
		return e.Kind == KindExecutionFailed
	}
	return false
}

// AsError extracts the *Error from err.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// ExecutorError is the cause recorded when an executor reports failure.
type ExecutorError struct {
	Message string
}

func (e *ExecutorError) Error() string {
	if e.Message == "" {
		return "executor reported failure"
	}
	return e.Message
}
