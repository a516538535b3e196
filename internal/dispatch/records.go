package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/assessd/internal/runstate"
)

// Record is the persisted trace of one invocation, keyed by correlation id.
type Record struct {
	CorrelationID string         `json:"correlation_id"`
	RunID         string         `json:"run_id,omitempty"`
	TaskID        string         `json:"task_id,omitempty"`
	ContractKind  string         `json:"contract_kind"`
	Input         map[string]any `json:"input"`
	Output        map[string]any `json:"output,omitempty"`
	// Status is "succeeded" or the failure Kind.
	Status     string    `json:"status"`
	Reason     Reason    `json:"reason,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// StatusSucceeded marks a record for a successful invocation.
const StatusSucceeded = "succeeded"

// RecordStore persists invocation records.
type RecordStore interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, correlationID string) (Record, error)
	ListByRun(ctx context.Context, runID string) ([]Record, error)
}

// MemoryRecordStore keeps records in a map.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryRecordStore returns an empty store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]Record)}
}

// Save stores a detached copy of rec, replacing any record with the same id.
func (s *MemoryRecordStore) Save(_ context.Context, rec Record) error {
	if rec.CorrelationID == "" {
		return fmt.Errorf("save record: correlation id is required")
	}
	rec.Input = cloneMap(rec.Input)
	rec.Output = cloneMap(rec.Output)

	s.mu.Lock()
	s.records[rec.CorrelationID] = rec
	s.mu.Unlock()
	return nil
}

// Get returns the record for correlationID.
func (s *MemoryRecordStore) Get(_ context.Context, correlationID string) (Record, error) {
	s.mu.RLock()
	rec, ok := s.records[correlationID]
	s.mu.RUnlock()
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, correlationID)
	}
	rec.Input = cloneMap(rec.Input)
	rec.Output = cloneMap(rec.Output)
	return rec, nil
}

// ListByRun returns the run's records ordered by start time.
func (s *MemoryRecordStore) ListByRun(_ context.Context, runID string) ([]Record, error) {
	s.mu.RLock()
	var out []Record
	for _, rec := range s.records {
		if rec.RunID == runID {
			rec.Input = cloneMap(rec.Input)
			rec.Output = cloneMap(rec.Output)
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return runstate.CloneValue(m).(map[string]any)
}
