package dispatch

import (
	"context"

	"github.com/fyrsmithlabs/assessd/internal/contract"
)

// Payload is what the dispatcher hands an executor.
type Payload struct {
	ContractKind  string             `json:"contractKind"`
	Input         map[string]any     `json:"input"`
	CorrelationID string             `json:"correlationId"`
	Execution     contract.Execution `json:"execution"`
}

// Response is the executor's answer. Output is read only when Success is set.
type Response struct {
	Success bool           `json:"success"`
	Output  map[string]any `json:"output,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Executor runs a task outside the orchestration core.
//
// Implementations should return promptly once ctx is done; the dispatcher
// stops waiting at that point regardless.
type Executor interface {
	Execute(ctx context.Context, p Payload) (Response, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, p Payload) (Response, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, p Payload) (Response, error) {
	return f(ctx, p)
}

// Router sends each payload to the executor registered for its contract
// kind, falling back to a default.
type Router struct {
	routes   map[string]Executor
	fallback Executor
}

// NewRouter returns a router. fallback may be nil.
func NewRouter(fallback Executor) *Router {
	return &Router{routes: make(map[string]Executor), fallback: fallback}
}

// Handle registers exec for kind. Not safe for use once dispatching starts.
func (r *Router) Handle(kind string, exec Executor) *Router {
	r.routes[kind] = exec
	return r
}

// Execute implements Executor.
func (r *Router) Execute(ctx context.Context, p Payload) (Response, error) {
	if exec, ok := r.routes[p.ContractKind]; ok {
		return exec.Execute(ctx, p)
	}
	if r.fallback != nil {
		return r.fallback.Execute(ctx, p)
	}
	return Response{}, &ExecutorError{Message: "no executor for contract kind " + p.ContractKind}
}
