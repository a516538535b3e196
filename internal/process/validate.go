package process

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/fyrsmithlabs/assessd/internal/breakpoint"
	"github.com/fyrsmithlabs/assessd/internal/contract"
	"github.com/fyrsmithlabs/assessd/internal/phase"
	"github.com/fyrsmithlabs/assessd/internal/runstate"
)

// ErrInvalidDefinition wraps every definition problem.
var ErrInvalidDefinition = errors.New("invalid process definition")

// reservedRoots cannot be task ids: bindings would become ambiguous.
var reservedRoots = []string{"metrics", "labels", "findings", "artifacts", "tasks"}

// Contracts resolves task kinds during validation.
type Contracts interface {
	Lookup(kind string) (*contract.Contract, error)
}

// Validate checks def against contracts and returns every problem found,
// joined. A nil contracts skips the task kind check.
func Validate(def *Definition, contracts Contracts) error {
	if def == nil {
		return fmt.Errorf("%w: nil definition", ErrInvalidDefinition)
	}

	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidDefinition, fmt.Sprintf(format, args...)))
	}

	if strings.TrimSpace(def.Name) == "" {
		bad("name is required")
	}
	if len(def.Phases) == 0 {
		bad("at least one phase is required")
	}

	phaseIDs := make(map[string]bool, len(def.Phases))
	gateIDs := make(map[string]string)
	breakpointIDs := make(map[string]bool)

	for i, s := range def.Phases {
		where := fmt.Sprintf("phases[%d]", i)
		if s.ID == "" {
			bad("%s: id is required", where)
		} else {
			where = fmt.Sprintf("phase %q", s.ID)
			if phaseIDs[s.ID] {
				bad("%s: duplicate phase id", where)
			}
			phaseIDs[s.ID] = true
		}

		if !s.Mode.Valid() {
			bad("%s: unknown mode %q", where, s.Mode)
		}
		if s.MaxParallelism < 0 {
			bad("%s: max_parallelism must be >= 0", where)
		}
		if len(s.Tasks) == 0 {
			bad("%s: at least one task is required", where)
		}
		errs = append(errs, validateTasks(where, s.Phase, contracts)...)

		for _, g := range s.Gates {
			if err := g.Check(); err != nil {
				errs = append(errs, fmt.Errorf("%w: %s: %w", ErrInvalidDefinition, where, err))
			}
			if g.ID == "" {
				continue
			}
			if other, dup := gateIDs[g.ID]; dup {
				bad("%s: gate %q already declared in phase %q", where, g.ID, other)
			}
			gateIDs[g.ID] = s.ID
		}

		onBlock := 0
		for j, b := range s.Breakpoints {
			bwhere := fmt.Sprintf("%s: breakpoints[%d]", where, j)
			if b.ID != "" {
				if breakpointIDs[b.ID] {
					bad("%s: duplicate breakpoint id %q", bwhere, b.ID)
				}
				breakpointIDs[b.ID] = true
			}
			switch b.Trigger() {
			case WhenOnBlock:
				onBlock++
				if len(s.Gates) == 0 {
					bad("%s: on_block breakpoint on a phase without gates", bwhere)
				}
			case WhenAlways:
			default:
				bad("%s: unknown when %q", bwhere, b.When)
			}
			for _, a := range b.Actions {
				if !slices.Contains(breakpoint.DefaultActions(), a) {
					bad("%s: unknown action %q", bwhere, a)
				}
			}
			if b.Timeout < 0 {
				bad("%s: negative timeout", bwhere)
			}
		}
		if onBlock > 1 {
			bad("%s: at most one on_block breakpoint per phase", where)
		}
	}

	return errors.Join(errs...)
}

func validateTasks(where string, p phase.Phase, contracts Contracts) []error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s: %s", ErrInvalidDefinition, where, fmt.Sprintf(format, args...)))
	}

	position := make(map[string]int, len(p.Tasks))
	for i, t := range p.Tasks {
		switch {
		case t.ID == "":
			bad("tasks[%d]: id is required", i)
		case strings.ContainsAny(t.ID, ".[]"):
			bad("task %q: id must not contain '.', '[' or ']'", t.ID)
		case slices.Contains(reservedRoots, t.ID):
			bad("task %q: id is reserved", t.ID)
		default:
			if _, dup := position[t.ID]; dup {
				bad("task %q: duplicate task id", t.ID)
			}
			position[t.ID] = i
		}
	}

	for i, t := range p.Tasks {
		twhere := fmt.Sprintf("task %q", t.ID)
		if t.ID == "" {
			twhere = fmt.Sprintf("tasks[%d]", i)
		}
		if t.Kind == "" {
			bad("%s: kind is required", twhere)
		} else if contracts != nil {
			if _, err := contracts.Lookup(t.Kind); err != nil {
				bad("%s: %v", twhere, err)
			}
		}
		if !t.Criticality.Valid() {
			bad("%s: unknown criticality %q", twhere, t.Criticality)
		}
		if t.Timeout < 0 {
			bad("%s: negative timeout", twhere)
		}

		for _, field := range sortedKeys(t.Bind) {
			from := t.Bind[field].From
			source := bindingRoot(from)
			at, isTask := position[source]
			switch {
			case from == "":
				bad("%s: input %q: from is required", twhere, field)
			case isTask && p.Mode == phase.ModeParallel:
				bad("%s: input %q: cannot bind task %q in a parallel phase", twhere, field, source)
			case isTask && at >= i:
				bad("%s: input %q: task %q does not run before this task", twhere, field, source)
			case !isTask:
				if _, err := runstate.ParsePath(from); err != nil {
					bad("%s: input %q: %v", twhere, field, err)
				}
			}
		}

		for _, name := range sortedKeys(t.Export) {
			if name == "" || t.Export[name] == "" {
				bad("%s: export entries need a name and a path", twhere)
			}
		}
	}
	return errs
}

// bindingRoot returns the task id a binding would read from, if it names one.
func bindingRoot(from string) string {
	if i := strings.IndexAny(from, ".["); i >= 0 {
		return from[:i]
	}
	return from
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
