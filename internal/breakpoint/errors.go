package breakpoint

import "errors"

// Lifecycle errors.
var (
	ErrInvalidTransition    = errors.New("invalid state transition")
	ErrConcurrentBreakpoint = errors.New("another breakpoint is awaiting resolution for this run")
	ErrBreakpointNotFound   = errors.New("breakpoint not found")
	ErrAlreadyResolved      = errors.New("breakpoint already resolved")
	ErrBreakpointTimedOut   = errors.New("breakpoint timed out")
	ErrBreakpointCancelled  = errors.New("breakpoint cancelled")
)

// Decision errors. The breakpoint stays pending after these.
var (
	ErrInvalidDecision      = errors.New("invalid decision")
	ErrInvalidModifyPayload = errors.New("invalid modify payload")
)
