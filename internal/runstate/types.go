// Package runstate models the accumulated state of one process run.
//
// State is owned by the orchestrator and only grows: artifacts, findings,
// task failures and audit records are appended, while metrics and labels
// are keyed and may be overwritten by later phases. Everything else sees a
// Snapshot, a deep copy that can be read without locking.
package runstate

import (
	"fmt"
	"strings"
	"time"
)

// Severity classifies a finding. Severities are ordered; see Rank.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeveritySerious  Severity = "serious"
	SeverityModerate Severity = "moderate"
	SeverityMinor    Severity = "minor"
	SeverityInfo     Severity = "info"
)

// Severities lists every severity from most to least severe.
func Severities() []Severity {
	return []Severity{SeverityCritical, SeveritySerious, SeverityModerate, SeverityMinor, SeverityInfo}
}

// ParseSeverity normalizes a severity name. high, medium and low are
// accepted as aliases for serious, moderate and minor.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical, nil
	case "serious", "high":
		return SeveritySerious, nil
	case "moderate", "medium":
		return SeverityModerate, nil
	case "minor", "low":
		return SeverityMinor, nil
	case "info", "informational":
		return SeverityInfo, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Rank orders severities: critical is 4, info is 0, unknown is -1.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeveritySerious:
		return 3
	case SeverityModerate:
		return 2
	case SeverityMinor:
		return 1
	case SeverityInfo:
		return 0
	}
	return -1
}

// AtLeast reports whether s is as severe as other or more.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// UnmarshalText accepts any spelling ParseSeverity does.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Artifact is an opaque reference to something a task produced.
type Artifact struct {
	Path   string `json:"path"`
	Format string `json:"format,omitempty"`
	Label  string `json:"label,omitempty"`
	TaskID string `json:"task_id,omitempty"`
	Phase  string `json:"phase,omitempty"`
}

// Finding is a violation, vulnerability or other issue reported by a task.
type Finding struct {
	Severity Severity `json:"severity"`
	Category string   `json:"category,omitempty"`
	Detail   string   `json:"detail,omitempty"`
	Location string   `json:"location,omitempty"`
	TaskID   string   `json:"task_id,omitempty"`
	Phase    string   `json:"phase,omitempty"`
}

// TaskFailure records a task that did not produce a usable result.
type TaskFailure struct {
	TaskID   string `json:"task_id"`
	Kind     string `json:"kind"`
	Phase    string `json:"phase"`
	Optional bool   `json:"optional"`
	// Reason is a stable classifier such as invalid_output, timeout or skipped.
	Reason string `json:"reason"`
	Error  string `json:"error,omitempty"`
}

// AuditRecord is appended each time a breakpoint is resolved.
type AuditRecord struct {
	BreakpointID string         `json:"breakpoint_id"`
	Phase        string         `json:"phase"`
	Gate         string         `json:"gate,omitempty"`
	Question     string         `json:"question"`
	Decision     string         `json:"decision"`
	Payload      map[string]any `json:"payload,omitempty"`
	Comment      string         `json:"comment,omitempty"`
	ResolvedBy   string         `json:"resolved_by,omitempty"`
	ResolvedAt   time.Time      `json:"resolved_at"`
}

// Delta is what one phase contributes to the run.
type Delta struct {
	Phase     string
	Artifacts []Artifact
	Findings  []Finding
	Metrics   map[string]float64
	Labels    map[string]string
	Failures  []TaskFailure
}
