package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrRunNotArchived is returned by MemoryArchive.Get for unknown ids.
var ErrRunNotArchived = errors.New("run not archived")

// Archiver receives every run that reaches a terminal status.
type Archiver interface {
	Archive(ctx context.Context, run Summary) error
}

// MemoryArchive keeps terminal runs in memory for postmortem review.
type MemoryArchive struct {
	mu   sync.RWMutex
	runs map[string]Summary
}

// NewMemoryArchive returns an empty archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{runs: make(map[string]Summary)}
}

// Archive stores run, replacing any earlier entry with the same id.
func (a *MemoryArchive) Archive(_ context.Context, run Summary) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runs[run.ID] = run
	return nil
}

// Get returns the archived run with id.
func (a *MemoryArchive) Get(id string) (Summary, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.runs[id]
	if !ok {
		return Summary{}, ErrRunNotArchived
	}
	return s, nil
}

// List returns archived runs, most recent first.
func (a *MemoryArchive) List() []Summary {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Summary, 0, len(a.runs))
	for _, s := range a.runs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}
