// Package breakpoint suspends a run until an external reviewer decides
// whether it may continue.
package breakpoint

import (
	"fmt"
	"slices"
	"time"

	"github.com/fyrsmithlabs/assessd/internal/runstate"
)

// Status is the lifecycle state of a breakpoint.
type Status string

const (
	StatusCreated   Status = "created"
	StatusAwaiting  Status = "awaiting_resolution"
	StatusResolved  Status = "resolved"
	StatusTimedOut  Status = "timed_out"
	StatusCancelled Status = "cancelled"
)

// ValidTransitions defines allowed state transitions.
var ValidTransitions = map[Status][]Status{
	StatusCreated:   {StatusAwaiting},
	StatusAwaiting:  {StatusResolved, StatusTimedOut, StatusCancelled},
	StatusResolved:  {}, // terminal
	StatusTimedOut:  {}, // terminal
	StatusCancelled: {}, // terminal
}

// CanTransitionTo checks if a transition from s to target is valid.
func (s Status) CanTransitionTo(target Status) bool {
	return slices.Contains(ValidTransitions[s], target)
}

// IsTerminal returns true if this is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusTimedOut || s == StatusCancelled
}

// Action is a reviewer's decision.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionModify  Action = "modify"
)

// DefaultActions are offered when a request names none.
func DefaultActions() []Action {
	return []Action{ActionApprove, ActionReject, ActionModify}
}

func (a Action) valid() bool {
	return a == ActionApprove || a == ActionReject || a == ActionModify
}

// File is a reference the reviewer should look at.
type File struct {
	Path   string `json:"path"`
	Format string `json:"format,omitempty"`
	Label  string `json:"label,omitempty"`
}

// FilesFromArtifacts converts run artifacts into file references.
func FilesFromArtifacts(artifacts []runstate.Artifact) []File {
	files := make([]File, 0, len(artifacts))
	for _, a := range artifacts {
		files = append(files, File{Path: a.Path, Format: a.Format, Label: a.Label})
	}
	return files
}

// PayloadValidator checks a modify payload before it is accepted.
type PayloadValidator func(payload map[string]any) error

// Request describes a breakpoint to raise.
type Request struct {
	RunID           string
	Phase           string
	Gate            string
	Title           string
	Question        string
	Context         map[string]any
	ReferencedFiles []File
	Actions         []Action
	// Timeout overrides the controller default when positive.
	Timeout time.Duration
	// Validator vets modify payloads. Nil accepts any payload.
	Validator PayloadValidator
}

// Decision is the reviewer's answer.
type Decision struct {
	Action     Action         `json:"decision"`
	Payload    map[string]any `json:"payload,omitempty"`
	ResolvedBy string         `json:"resolved_by,omitempty"`
	Comment    string         `json:"comment,omitempty"`
}

// Resolution is a decision accepted by the controller.
type Resolution struct {
	Decision
	BreakpointID string    `json:"breakpoint_id"`
	ResolvedAt   time.Time `json:"resolved_at"`
}

// Breakpoint is a suspension point awaiting a decision.
type Breakpoint struct {
	ID              string         `json:"id"`
	RunID           string         `json:"run_id"`
	Phase           string         `json:"phase,omitempty"`
	Gate            string         `json:"gate,omitempty"`
	Title           string         `json:"title"`
	Question        string         `json:"question"`
	Context         map[string]any `json:"context,omitempty"`
	ReferencedFiles []File         `json:"referenced_files,omitempty"`
	Actions         []Action       `json:"actions"`
	Status          Status         `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	Deadline        *time.Time     `json:"deadline,omitempty"`
	Resolution      *Resolution    `json:"resolution,omitempty"`
}

func (b *Breakpoint) transition(to Status) error {
	if !b.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, to)
	}
	b.Status = to
	return nil
}

func (b *Breakpoint) offers(a Action) bool {
	return slices.Contains(b.Actions, a)
}

// clone returns a copy that shares nothing mutable with b.
func (b *Breakpoint) clone() *Breakpoint {
	c := *b
	if b.Context != nil {
		c.Context = runstate.CloneValue(b.Context).(map[string]any)
	}
	c.ReferencedFiles = slices.Clone(b.ReferencedFiles)
	c.Actions = slices.Clone(b.Actions)
	if b.Deadline != nil {
		d := *b.Deadline
		c.Deadline = &d
	}
	if b.Resolution != nil {
		r := *b.Resolution
		if r.Payload != nil {
			r.Payload = runstate.CloneValue(r.Payload).(map[string]any)
		}
		c.Resolution = &r
	}
	return &c
}
