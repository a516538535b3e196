package gate

import (
	"fmt"
	"slices"
	"strings"

	"github.com/fyrsmithlabs/assessd/internal/runstate"
)

// Status is a gate outcome. BLOCK is a control-flow signal, not an error.
type Status string

const (
	StatusPass  Status = "PASS"
	StatusWarn  Status = "WARN"
	StatusBlock Status = "BLOCK"
)

func (s Status) rank() int {
	switch s {
	case StatusPass:
		return 0
	case StatusWarn:
		return 1
	case StatusBlock:
		return 2
	}
	return -1
}

// Verdict is the structured result of evaluating one gate.
type Verdict struct {
	GateID     string     `json:"gate_id"`
	Metric     string     `json:"metric"`
	Comparator Comparator `json:"comparator"`
	Status     Status     `json:"status"`
	Rationale  string     `json:"rationale"`
	// Measured is a float64, a string, or nil when the metric was missing.
	Measured  any      `json:"measured"`
	Threshold any      `json:"threshold"`
	Severity  Severity `json:"severity"`
}

// Passed reports whether the verdict is PASS.
func (v Verdict) Passed() bool { return v.Status == StatusPass }

// Evaluator decides gates against run snapshots. It holds no state; the
// verdict is a pure function of the gate and the snapshot.
type Evaluator struct{}

// NewEvaluator returns an Evaluator.
func NewEvaluator() *Evaluator { return &Evaluator{} }

// Evaluate decides g against snap.
func (e *Evaluator) Evaluate(g Gate, snap runstate.Snapshot) Verdict {
	return Evaluate(g, snap)
}

// EvaluateAll evaluates gates in declaration order.
func (e *Evaluator) EvaluateAll(gates []Gate, snap runstate.Snapshot) []Verdict {
	return EvaluateAll(gates, snap)
}

// Evaluate decides g against snap.
func Evaluate(g Gate, snap runstate.Snapshot) Verdict {
	v := Verdict{
		GateID:     g.ID,
		Metric:     g.Metric,
		Comparator: g.Comparator,
		Threshold:  g.describeThreshold(),
		Severity:   g.severity(),
	}

	path, err := runstate.ParsePath(g.Metric)
	if err != nil {
		v.Status = StatusBlock
		v.Rationale = fmt.Sprintf("gate %s: %v", g.ID, err)
		return v
	}

	measured, found := snap.Resolve(path)
	if !found {
		v.Status = missingStatus(g.missing())
		v.Rationale = fmt.Sprintf("%s is not present in run state (missing policy: %s)", g.Metric, g.missing())
		return v
	}

	if measured.IsString {
		v.Measured = measured.Str
	} else {
		v.Measured = measured.Num
	}

	ok, reason := compare(g, measured)
	predicate := func(verb string) string {
		return fmt.Sprintf("%s = %s %s %s %s", g.Metric, measured, verb, g.Comparator.symbol(g.Exclusive), formatOperand(v.Threshold))
	}
	if !ok {
		v.Status = failStatus(g.severity())
		v.Rationale = predicate("violates")
		if reason != "" {
			v.Rationale += ": " + reason
		}
		return v
	}

	v.Status = StatusPass
	v.Rationale = predicate("satisfies")

	// A passing gate over incomplete data is degraded by the incomplete policy.
	if failed := snap.OptionalFailures(); len(failed) > 0 && g.incomplete() != IncompleteIgnore {
		ids := make([]string, len(failed))
		for i, f := range failed {
			ids[i] = f.TaskID
		}
		v.Status = StatusWarn
		if g.incomplete() == IncompleteBlock {
			v.Status = StatusBlock
		}
		v.Rationale += fmt.Sprintf(", but optional tasks failed: %s", strings.Join(ids, ", "))
	}
	return v
}

// EvaluateAll evaluates gates in declaration order.
func EvaluateAll(gates []Gate, snap runstate.Snapshot) []Verdict {
	out := make([]Verdict, len(gates))
	for i, g := range gates {
		out[i] = Evaluate(g, snap)
	}
	return out
}

// Worst returns the most severe status among verdicts, PASS when empty.
func Worst(verdicts []Verdict) Status {
	worst := StatusPass
	for _, v := range verdicts {
		if v.Status.rank() > worst.rank() {
			worst = v.Status
		}
	}
	return worst
}

// Blocking returns the BLOCK verdicts in order.
func Blocking(verdicts []Verdict) []Verdict {
	var out []Verdict
	for _, v := range verdicts {
		if v.Status == StatusBlock {
			out = append(out, v)
		}
	}
	return out
}

func compare(g Gate, m runstate.Value) (bool, string) {
	switch g.Comparator {
	case In, NotIn:
		member := slices.Contains(g.Values, m.String())
		return member == (g.Comparator == In), ""
	case EQ, NE:
		var equal bool
		switch {
		case m.IsString && g.Value != "":
			equal = m.Str == g.Value
		case m.IsString:
			equal = m.Str == runstate.Number(g.Threshold).String()
		case g.Value != "":
			equal = m.String() == g.Value
		default:
			equal = m.Num == g.Threshold
		}
		return equal == (g.Comparator == EQ), ""
	}

	if m.IsString {
		return false, "value is not numeric"
	}
	x, t := m.Num, g.Threshold
	switch g.Comparator {
	case GTE:
		if g.Exclusive {
			return x > t, ""
		}
		return x >= t, ""
	case LTE:
		if g.Exclusive {
			return x < t, ""
		}
		return x <= t, ""
	case GT:
		return x > t, ""
	case LT:
		return x < t, ""
	}
	return false, fmt.Sprintf("unknown comparator %q", g.Comparator)
}

func failStatus(s Severity) Status {
	if s == SeverityWarning {
		return StatusWarn
	}
	return StatusBlock
}

func missingStatus(p MissingPolicy) Status {
	switch p {
	case MissingPass:
		return StatusPass
	case MissingWarn:
		return StatusWarn
	default:
		return StatusBlock
	}
}

func formatOperand(v any) string {
	switch t := v.(type) {
	case float64:
		return runstate.Number(t).String()
	case []string:
		return "[" + strings.Join(t, ", ") + "]"
	case string:
		return fmt.Sprintf("%q", t)
	}
	return fmt.Sprint(v)
}
