// Package phase executes one phase of a process: a set of task dispatches
// run in order or fanned out concurrently, joined, and projected into a
// delta for the run state.
package phase

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/assessd/internal/dispatch"
	"github.com/fyrsmithlabs/assessd/internal/runstate"
)

// Mode selects how a phase schedules its tasks.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
)

// Valid reports whether m is a known mode. The empty mode means sequential.
func (m Mode) Valid() bool {
	return m == "" || m == ModeSequential || m == ModeParallel
}

// Criticality decides whether a task failure fails its phase.
type Criticality string

const (
	Required Criticality = "required"
	Optional Criticality = "optional"
)

// Valid reports whether c is known. The empty criticality means required.
func (c Criticality) Valid() bool {
	return c == "" || c == Required || c == Optional
}

// Binding injects a value into a task input at dispatch time.
//
// From is either a path into an earlier task's output in the same phase,
// written <taskID>.<outputPath> (or just <taskID> for the whole output), or
// a run state path such as metrics.complianceScore or labels.level.
type Binding struct {
	From string `yaml:"from" json:"from"`
}

// Task is one dispatch of a contract within a phase.
type Task struct {
	ID          string             `yaml:"id" json:"id"`
	Kind        string             `yaml:"kind" json:"kind"`
	Criticality Criticality        `yaml:"criticality,omitempty" json:"criticality,omitempty"`
	Input       map[string]any     `yaml:"input,omitempty" json:"input,omitempty"`
	Bind        map[string]Binding `yaml:"bind,omitempty" json:"bind,omitempty"`
	// Export copies output values into run metrics (numbers) or labels
	// (strings), keyed by metric name, valued by output path.
	Export  map[string]string `yaml:"export,omitempty" json:"export,omitempty"`
	Timeout time.Duration     `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// IsOptional reports whether the task's failure is tolerated.
func (t Task) IsOptional() bool { return t.Criticality == Optional }

// Phase is a named step of a process.
type Phase struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title,omitempty" json:"title,omitempty"`
	Mode  Mode   `yaml:"mode,omitempty" json:"mode,omitempty"`
	// MaxParallelism bounds concurrent dispatches in parallel mode. Zero
	// uses the runner default.
	MaxParallelism int    `yaml:"max_parallelism,omitempty" json:"max_parallelism,omitempty"`
	Tasks          []Task `yaml:"tasks" json:"tasks"`
}

// TaskStatus is the terminal status of a task within a phase.
type TaskStatus string

const (
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
)

// Failure reasons that do not come from the dispatcher.
const (
	ReasonSkipped           = "skipped"
	ReasonUnresolvedBinding = "unresolved_binding"
	ReasonUnknownContract   = "unknown_contract"
)

// TaskResult is the outcome of one task.
type TaskResult struct {
	TaskID        string
	Kind          string
	Optional      bool
	Status        TaskStatus
	CorrelationID string
	Output        map[string]any
	Err           error
	Duration      time.Duration
}

func (r TaskResult) failure(phase string) runstate.TaskFailure {
	f := runstate.TaskFailure{
		TaskID:   r.TaskID,
		Kind:     r.Kind,
		Phase:    phase,
		Optional: r.Optional,
		Reason:   failureReason(r),
	}
	if r.Err != nil {
		f.Error = r.Err.Error()
	}
	return f
}

func failureReason(r TaskResult) string {
	if r.Status == TaskSkipped {
		return ReasonSkipped
	}
	if de, ok := dispatch.AsError(r.Err); ok {
		if de.Kind == dispatch.KindExecutionFailed {
			return string(de.Reason)
		}
		return string(de.Kind)
	}
	var be *bindingError
	if asBindingError(r.Err, &be) {
		return ReasonUnresolvedBinding
	}
	var ce *contractError
	if asContractError(r.Err, &ce) {
		return ReasonUnknownContract
	}
	return string(dispatch.KindInvalidOutput)
}

// Result is the joined outcome of a phase. Failures holds optional tasks
// that failed; their artifacts, findings and metrics are missing.
type Result struct {
	Phase       string
	Artifacts   []runstate.Artifact
	Findings    []runstate.Finding
	Metrics     map[string]float64
	Labels      map[string]string
	TaskResults []TaskResult
	Failures    []runstate.TaskFailure
}

// Delta converts the result into a run state delta.
func (r *Result) Delta() runstate.Delta {
	return runstate.Delta{
		Phase:     r.Phase,
		Artifacts: r.Artifacts,
		Findings:  r.Findings,
		Metrics:   r.Metrics,
		Labels:    r.Labels,
		Failures:  r.Failures,
	}
}

// Degraded reports whether optional tasks failed.
func (r *Result) Degraded() bool { return len(r.Failures) > 0 }

func (r *Result) String() string {
	return fmt.Sprintf("phase %s: %d artifacts, %d findings, %d metrics, %d failures",
		r.Phase, len(r.Artifacts), len(r.Findings), len(r.Metrics), len(r.Failures))
}
