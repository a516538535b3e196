package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// NATSExecutor runs tasks by request/reply on <prefix>.<executor>, where
// executor is the contract's Execution.Executor or, when unset, its kind.
//
// Request and reply bodies are JSON encodings of Payload and Response. The
// caller's trace context travels in the message headers.
type NATSExecutor struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSExecutor returns an executor publishing under prefix.
func NewNATSExecutor(nc *nats.Conn, prefix string) *NATSExecutor {
	return &NATSExecutor{nc: nc, prefix: prefix}
}

// Subject returns the request subject for p.
func (e *NATSExecutor) Subject(p Payload) string {
	target := p.Execution.Executor
	if target == "" {
		target = p.ContractKind
	}
	return e.prefix + "." + target
}

// Execute sends p and waits for a reply until ctx is done.
func (e *NATSExecutor) Execute(ctx context.Context, p Payload) (Response, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return Response{}, fmt.Errorf("marshal payload: %w", err)
	}

	// RequestWithContext needs a cancellable context.
	if ctx.Done() == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
	}

	req := nats.NewMsg(e.Subject(p))
	req.Data = data
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	msg, err := e.nc.RequestMsgWithContext(ctx, req)
	if err != nil {
		return Response{}, fmt.Errorf("request %s: %w", e.Subject(p), err)
	}

	var resp Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// Serve answers requests on subject with exec. It is the worker side of
// NATSExecutor; exec runs under the trace context carried by the request.
// The caller owns the returned subscription.
func Serve(nc *nats.Conn, subject string, exec Executor) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var p Payload
		var resp Response
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			resp = Response{Error: "decode payload: " + err.Error()}
		} else {
			ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(msg.Header))
			r, err := exec.Execute(ctx, p)
			if err != nil {
				resp = Response{Error: err.Error()}
			} else {
				resp = r
			}
		}

		data, err := json.Marshal(resp)
		if err != nil {
			data, _ = json.Marshal(Response{Error: "encode response: " + err.Error()})
		}
		_ = msg.Respond(data)
	})
}
