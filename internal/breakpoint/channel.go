package breakpoint

import (
	"context"
	"errors"
	"sync"
)

// Channel carries breakpoints to external reviewers. Publish is called once
// when a breakpoint starts awaiting resolution; Settle once when it reaches a
// terminal status. Decisions come back through a Resolver.
type Channel interface {
	Publish(ctx context.Context, bp *Breakpoint) error
	Settle(ctx context.Context, bp *Breakpoint) error
}

type nopChannel struct{}

func (nopChannel) Publish(context.Context, *Breakpoint) error { return nil }
func (nopChannel) Settle(context.Context, *Breakpoint) error  { return nil }

// Channels fans publication out to several channels. Every channel is
// called; errors are joined.
func Channels(chs ...Channel) Channel {
	return multiChannel(chs)
}

type multiChannel []Channel

func (m multiChannel) Publish(ctx context.Context, bp *Breakpoint) error {
	var errs []error
	for _, ch := range m {
		if err := ch.Publish(ctx, bp.clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiChannel) Settle(ctx context.Context, bp *Breakpoint) error {
	var errs []error
	for _, ch := range m {
		if err := ch.Settle(ctx, bp.clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemoryChannel keeps published breakpoints in process. It is used by tests
// and by embedders that resolve breakpoints programmatically.
type MemoryChannel struct {
	mu        sync.Mutex
	published []*Breakpoint
	settled   []*Breakpoint
	queue     chan *Breakpoint

	// OnPublish, when set, is called synchronously for every published
	// breakpoint after it is recorded.
	OnPublish func(bp *Breakpoint)
}

// NewMemoryChannel creates a channel whose Next buffers up to 64 breakpoints.
func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{queue: make(chan *Breakpoint, 64)}
}

// Publish implements Channel.
func (m *MemoryChannel) Publish(_ context.Context, bp *Breakpoint) error {
	m.mu.Lock()
	m.published = append(m.published, bp)
	hook := m.OnPublish
	m.mu.Unlock()

	select {
	case m.queue <- bp:
	default:
	}
	if hook != nil {
		hook(bp.clone())
	}
	return nil
}

// Settle implements Channel.
func (m *MemoryChannel) Settle(_ context.Context, bp *Breakpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settled = append(m.settled, bp)
	return nil
}

// Next blocks until a breakpoint is published or ctx is done.
func (m *MemoryChannel) Next(ctx context.Context) (*Breakpoint, error) {
	select {
	case bp := <-m.queue:
		return bp.clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Published returns copies of every published breakpoint in order.
func (m *MemoryChannel) Published() []*Breakpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Breakpoint, len(m.published))
	for i, bp := range m.published {
		out[i] = bp.clone()
	}
	return out
}

// Settled returns copies of every settled breakpoint in order.
func (m *MemoryChannel) Settled() []*Breakpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Breakpoint, len(m.settled))
	for i, bp := range m.settled {
		out[i] = bp.clone()
	}
	return out
}
