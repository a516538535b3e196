// Package dispatch runs task invocations against an external executor.
//
// A Dispatcher validates input against the contract before any side effect,
// hands the payload to an Executor, validates the returned output and
// normalizes every failure into an *Error:
//
//	res := d.Dispatch(ctx, c, dispatch.Invocation{TaskID: "audit", Input: in})
//	if errors.Is(res.Err, dispatch.ErrInvalidOutput) { ... }
//
// Executors can run in-process (ExecutorFunc, Router) or remotely over NATS
// request/reply (NATSExecutor, Serve).
package dispatch
