package breakpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATSChannel publishes breakpoints for remote reviewers.
//
// Subjects:
//
//	<prefix>.<run>.<id>.requested   breakpoint awaiting a decision
//	<prefix>.<run>.<id>.<status>    terminal status (resolved, timed_out, cancelled)
//	<prefix>.<run>.<id>.resolve     reviewers send a Decision here
//
// A resolve message that carries a reply subject is answered with
// {"ok":true} or {"ok":false,"error":"..."}.
type NATSChannel struct {
	nc     *nats.Conn
	prefix string

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewNATSChannel returns a channel publishing under prefix.
func NewNATSChannel(nc *nats.Conn, prefix string) *NATSChannel {
	return &NATSChannel{nc: nc, prefix: prefix}
}

// ResolveReply is the answer to a resolve request.
type ResolveReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Subject returns the subject for a breakpoint event.
func (n *NATSChannel) Subject(bp *Breakpoint, event string) string {
	return strings.Join([]string{n.prefix, bp.RunID, bp.ID, event}, ".")
}

// Publish implements Channel.
func (n *NATSChannel) Publish(_ context.Context, bp *Breakpoint) error {
	return n.publish(n.Subject(bp, "requested"), bp)
}

// Settle implements Channel.
func (n *NATSChannel) Settle(_ context.Context, bp *Breakpoint) error {
	return n.publish(n.Subject(bp, string(bp.Status)), bp)
}

func (n *NATSChannel) publish(subject string, bp *Breakpoint) error {
	data, err := json.Marshal(bp)
	if err != nil {
		return fmt.Errorf("marshal breakpoint: %w", err)
	}
	if err := n.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Listen subscribes to resolve subjects and forwards decisions to r.
// It may be called once; Close ends the subscription.
func (n *NATSChannel) Listen(r Resolver) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sub != nil {
		return errors.New("nats channel already listening")
	}

	sub, err := n.nc.Subscribe(n.prefix+".*.*.resolve", func(msg *nats.Msg) {
		reply := n.handleResolve(r, msg)
		if msg.Reply == "" {
			return
		}
		data, _ := json.Marshal(reply)
		_ = msg.Respond(data)
	})
	if err != nil {
		return fmt.Errorf("subscribe resolve: %w", err)
	}
	// Make sure the subscription is registered before callers publish.
	if err := n.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flush: %w", err)
	}
	n.sub = sub
	return nil
}

func (n *NATSChannel) handleResolve(r Resolver, msg *nats.Msg) ResolveReply {
	tokens := strings.Split(msg.Subject, ".")
	if len(tokens) < 4 {
		return ResolveReply{Error: "malformed subject " + msg.Subject}
	}
	id := tokens[len(tokens)-2]

	var d Decision
	if err := json.Unmarshal(msg.Data, &d); err != nil {
		return ResolveReply{Error: "decode decision: " + err.Error()}
	}
	if err := r.Resolve(id, d); err != nil {
		return ResolveReply{Error: err.Error()}
	}
	return ResolveReply{OK: true}
}

// Close drains the resolve subscription.
func (n *NATSChannel) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sub == nil {
		return nil
	}
	err := n.sub.Unsubscribe()
	n.sub = nil
	return err
}
