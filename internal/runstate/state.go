package runstate

import (
	"maps"
	"slices"
	"sync"
)

// State accumulates everything a run has produced so far. The orchestrator
// is the only writer; readers such as the HTTP API take Snapshots.
type State struct {
	mu sync.RWMutex

	phases    []string
	artifacts []Artifact
	findings  []Finding
	failures  []TaskFailure
	audit     []AuditRecord
	metrics   map[string]float64
	labels    map[string]string
}

// New returns an empty State.
func New() *State {
	return &State{
		metrics: make(map[string]float64),
		labels:  make(map[string]string),
	}
}

// Fold merges a phase delta. Sequences are appended in delta order and
// keyed values overwrite earlier ones.
func (s *State) Fold(d Delta) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.Phase != "" {
		s.phases = append(s.phases, d.Phase)
	}
	s.artifacts = append(s.artifacts, d.Artifacts...)
	s.findings = append(s.findings, d.Findings...)
	s.failures = append(s.failures, d.Failures...)
	for k, v := range d.Metrics {
		s.metrics[k] = v
	}
	for k, v := range d.Labels {
		s.labels[k] = v
	}
}

// RecordFailures appends task failures without completing a phase. Used
// when a phase fails outright and never produces a delta.
func (s *State) RecordFailures(failures ...TaskFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failures...)
}

// SetMetric overwrites a single metric.
func (s *State) SetMetric(name string, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[name] = v
}

// SetLabel overwrites a single label.
func (s *State) SetLabel(name, v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels[name] = v
}

// AppendAudit records a breakpoint resolution.
func (s *State) AppendAudit(r AuditRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Payload = cloneAny(r.Payload)
	s.audit = append(s.audit, r)
}

// Snapshot returns a deep copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	audit := make([]AuditRecord, len(s.audit))
	for i, r := range s.audit {
		r.Payload = cloneAny(r.Payload)
		audit[i] = r
	}

	return Snapshot{
		Phases:    slices.Clone(s.phases),
		Artifacts: slices.Clone(s.artifacts),
		Findings:  slices.Clone(s.findings),
		Failures:  slices.Clone(s.failures),
		Audit:     audit,
		Metrics:   maps.Clone(s.metrics),
		Labels:    maps.Clone(s.labels),
	}
}

// Snapshot is a detached, read-only view of a State.
type Snapshot struct {
	Phases    []string           `json:"phases"`
	Artifacts []Artifact         `json:"artifacts"`
	Findings  []Finding          `json:"findings"`
	Failures  []TaskFailure      `json:"failures,omitempty"`
	Audit     []AuditRecord      `json:"audit,omitempty"`
	Metrics   map[string]float64 `json:"metrics"`
	Labels    map[string]string  `json:"labels,omitempty"`
}

// FindingCounts returns the number of findings per severity, with every
// severity present.
func (s Snapshot) FindingCounts() map[Severity]int {
	counts := make(map[Severity]int, 5)
	for _, sev := range Severities() {
		counts[sev] = 0
	}
	for _, f := range s.Findings {
		counts[f.Severity]++
	}
	return counts
}

// OptionalFailures returns the failures of optional tasks.
func (s Snapshot) OptionalFailures() []TaskFailure {
	var out []TaskFailure
	for _, f := range s.Failures {
		if f.Optional {
			out = append(out, f)
		}
	}
	return out
}

// ArtifactsForPhase returns the artifacts a phase contributed.
func (s Snapshot) ArtifactsForPhase(phase string) []Artifact {
	var out []Artifact
	for _, a := range s.Artifacts {
		if a.Phase == phase {
			out = append(out, a)
		}
	}
	return out
}

func cloneAny(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies JSON-shaped data (maps, slices, scalars).
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneAny(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	default:
		return v
	}
}
