// Package process loads process definitions: the ordered phases of an
// assessment, the contracts their tasks use, and the gates and breakpoints
// that follow each phase.
//
// A definition is validated once, at load time, against the contract
// registry it registers into. Nothing downstream re-checks it.
package process

import (
	"slices"
	"time"

	"github.com/fyrsmithlabs/assessd/internal/breakpoint"
	"github.com/fyrsmithlabs/assessd/internal/contract"
	"github.com/fyrsmithlabs/assessd/internal/gate"
	"github.com/fyrsmithlabs/assessd/internal/phase"
	"github.com/fyrsmithlabs/assessd/internal/runstate"
)

// When decides whether a declared breakpoint is raised.
type When string

const (
	// WhenOnBlock customizes the breakpoint raised when a gate of the phase
	// blocks. It is the default.
	WhenOnBlock When = "on_block"
	// WhenAlways raises the breakpoint after the phase regardless of gates.
	WhenAlways When = "always"
)

// BreakpointSpec declares a human checkpoint after a phase.
type BreakpointSpec struct {
	ID       string              `yaml:"id" json:"id"`
	Title    string              `yaml:"title" json:"title,omitempty"`
	Question string              `yaml:"question" json:"question,omitempty"`
	When     When                `yaml:"when" json:"when,omitempty"`
	Actions  []breakpoint.Action `yaml:"actions" json:"actions,omitempty"`
	Timeout  time.Duration       `yaml:"timeout" json:"timeout,omitempty"`
}

// Trigger returns When with its default applied.
func (b BreakpointSpec) Trigger() When {
	if b.When == "" {
		return WhenOnBlock
	}
	return b.When
}

// ContractSpec declares a contract inline in a definition file.
type ContractSpec struct {
	Kind      string             `yaml:"kind" json:"kind"`
	Input     contract.Schema    `yaml:"input" json:"input"`
	Output    contract.Schema    `yaml:"output" json:"output"`
	Metadata  contract.Metadata  `yaml:"metadata" json:"metadata"`
	Execution contract.Execution `yaml:"execution" json:"execution"`
}

// Stage is a phase together with what is evaluated after it.
type Stage struct {
	phase.Phase `yaml:",inline"`
	Gates       []gate.Gate      `yaml:"gates" json:"gates,omitempty"`
	Breakpoints []BreakpointSpec `yaml:"breakpoints" json:"breakpoints,omitempty"`
}

// OnBlock returns the breakpoint declared for blocking gates, if any.
func (s Stage) OnBlock() (BreakpointSpec, bool) {
	for _, b := range s.Breakpoints {
		if b.Trigger() == WhenOnBlock {
			return b, true
		}
	}
	return BreakpointSpec{}, false
}

// Always returns the unconditional breakpoints in declaration order.
func (s Stage) Always() []BreakpointSpec {
	var out []BreakpointSpec
	for _, b := range s.Breakpoints {
		if b.Trigger() == WhenAlways {
			out = append(out, b)
		}
	}
	return out
}

// Definition is a complete process.
type Definition struct {
	Name        string         `yaml:"name" json:"name"`
	Version     string         `yaml:"version" json:"version,omitempty"`
	Description string         `yaml:"description" json:"description,omitempty"`
	Contracts   []ContractSpec `yaml:"contracts" json:"contracts,omitempty"`
	Phases      []Stage        `yaml:"phases" json:"phases"`
}

// Gate returns the gate declared with id anywhere in the definition.
func (d *Definition) Gate(id string) (gate.Gate, bool) {
	for _, s := range d.Phases {
		for _, g := range s.Gates {
			if g.ID == id {
				return g, true
			}
		}
	}
	return gate.Gate{}, false
}

// Clone returns a deep copy. Runs work on a clone so a definition can be
// reused while a run is in progress.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	c := *d
	c.Contracts = slices.Clone(d.Contracts)
	c.Phases = make([]Stage, len(d.Phases))
	for i, s := range d.Phases {
		s.Tasks = cloneTasks(s.Tasks)
		s.Gates = slices.Clone(s.Gates)
		for j := range s.Gates {
			s.Gates[j].Values = slices.Clone(s.Gates[j].Values)
		}
		s.Breakpoints = slices.Clone(s.Breakpoints)
		for j := range s.Breakpoints {
			s.Breakpoints[j].Actions = slices.Clone(s.Breakpoints[j].Actions)
		}
		c.Phases[i] = s
	}
	return &c
}

func cloneTasks(tasks []phase.Task) []phase.Task {
	out := make([]phase.Task, len(tasks))
	for i, t := range tasks {
		if t.Input != nil {
			t.Input = runstate.CloneValue(t.Input).(map[string]any)
		}
		if t.Bind != nil {
			bind := make(map[string]phase.Binding, len(t.Bind))
			for k, v := range t.Bind {
				bind[k] = v
			}
			t.Bind = bind
		}
		if t.Export != nil {
			export := make(map[string]string, len(t.Export))
			for k, v := range t.Export {
				export[k] = v
			}
			t.Export = export
		}
		out[i] = t
	}
	return out
}
