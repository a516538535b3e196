package orchestrator

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/assessd/internal/gate"
	"github.com/fyrsmithlabs/assessd/internal/runstate"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusInit      Status = "init"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ValidTransitions defines allowed state transitions.
var ValidTransitions = map[Status][]Status{
	StatusInit:      {StatusRunning},
	StatusRunning:   {StatusCompleted, StatusAborted, StatusFailed, StatusCancelled},
	StatusCompleted: {}, // terminal
	StatusAborted:   {}, // terminal
	StatusFailed:    {}, // terminal
	StatusCancelled: {}, // terminal
}

// CanTransitionTo checks if a transition from s to target is valid.
func (s Status) CanTransitionTo(target Status) bool {
	return slices.Contains(ValidTransitions[s], target)
}

// IsTerminal returns true if this is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusAborted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// GateRecord holds the verdicts evaluated after one phase.
type GateRecord struct {
	Phase    string         `json:"phase"`
	Verdicts []gate.Verdict `json:"verdicts"`
}

// Run is one execution of a process definition. The orchestrator is its
// only writer; everything else reads through the accessors or Snapshot.
type Run struct {
	ID        string
	Process   string
	StartedAt time.Time
	State     *runstate.State

	mu      sync.RWMutex
	status  Status
	cursor  int
	phase   string
	phases  int
	endedAt time.Time
	err     error
	gates   []GateRecord
}

func newRun(process string, phases int, now time.Time) *Run {
	return &Run{
		ID:        uuid.New().String(),
		Process:   process,
		StartedAt: now,
		State:     runstate.New(),
		status:    StatusInit,
		cursor:    -1,
		phases:    phases,
	}
}

// Status returns the current status.
func (r *Run) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Cursor returns the index and id of the current phase. The index is -1
// before the first phase starts.
func (r *Run) Cursor() (int, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cursor, r.phase
}

// Err returns the terminal error, nil for a completed or unfinished run.
func (r *Run) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// EndedAt returns when the run reached a terminal status.
func (r *Run) EndedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.endedAt
}

// Gates returns the verdicts recorded so far, in phase order.
func (r *Run) Gates() []GateRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneGates(r.gates)
}

func (r *Run) transition(to Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.status.CanTransitionTo(to) {
		return fmt.Errorf("invalid run transition: %s -> %s", r.status, to)
	}
	r.status = to
	return nil
}

// advance moves the cursor. It never moves backwards.
func (r *Run) advance(i int, phaseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i <= r.cursor {
		return fmt.Errorf("phase cursor cannot move from %d to %d", r.cursor, i)
	}
	r.cursor, r.phase = i, phaseID
	return nil
}

func (r *Run) recordGates(phaseID string, verdicts []gate.Verdict) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gates = append(r.gates, GateRecord{Phase: phaseID, Verdicts: slices.Clone(verdicts)})
}

func (r *Run) end(to Status, err error, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.status.CanTransitionTo(to) {
		return fmt.Errorf("invalid run transition: %s -> %s", r.status, to)
	}
	r.status, r.err, r.endedAt = to, err, now
	return nil
}

// Summary is a detached, serializable view of a run.
type Summary struct {
	ID        string            `json:"id"`
	Process   string            `json:"process"`
	Status    Status            `json:"status"`
	Phase     string            `json:"phase,omitempty"`
	Progress  string            `json:"progress"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   *time.Time        `json:"ended_at,omitempty"`
	Error     string            `json:"error,omitempty"`
	Gates     []GateRecord      `json:"gates,omitempty"`
	State     runstate.Snapshot `json:"state"`
}

// Snapshot returns a Summary of the run as it is now.
func (r *Run) Snapshot() Summary {
	r.mu.RLock()
	s := Summary{
		ID:        r.ID,
		Process:   r.Process,
		Status:    r.status,
		Phase:     r.phase,
		Progress:  fmt.Sprintf("%d/%d", r.cursor+1, r.phases),
		StartedAt: r.StartedAt,
		Gates:     cloneGates(r.gates),
	}
	if !r.endedAt.IsZero() {
		t := r.endedAt
		s.EndedAt = &t
	}
	if r.err != nil {
		s.Error = r.err.Error()
	}
	r.mu.RUnlock()

	s.State = r.State.Snapshot()
	return s
}

func cloneGates(in []GateRecord) []GateRecord {
	out := make([]GateRecord, len(in))
	for i, g := range in {
		out[i] = GateRecord{Phase: g.Phase, Verdicts: slices.Clone(g.Verdicts)}
	}
	return out
}

// Event names a progress notification.
type Event string

const (
	EventRunStarted         Event = "run_started"
	EventPhaseStarted       Event = "phase_started"
	EventPhaseCompleted     Event = "phase_completed"
	EventGatesEvaluated     Event = "gates_evaluated"
	EventBreakpointRaised   Event = "breakpoint_raised"
	EventBreakpointResolved Event = "breakpoint_resolved"
	EventRunFinished        Event = "run_finished"
)

// Progress reports progress during execution.
type Progress struct {
	RunID      string `json:"run_id"`
	Event      Event  `json:"event"`
	Phase      string `json:"phase,omitempty"`
	Status     Status `json:"status"`
	Message    string `json:"message"`
	Percentage int    `json:"percentage"`
}

// ProgressCallback receives progress updates during execution. It is
// called synchronously from the run's goroutine and must not block.
type ProgressCallback func(progress Progress)
