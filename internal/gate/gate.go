// Package gate evaluates quality gates: threshold predicates over a run's
// accumulated state that decide whether the run may continue.
package gate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/assessd/internal/runstate"
)

// ErrInvalidGate wraps every gate declaration problem.
var ErrInvalidGate = errors.New("invalid gate")

// Comparator relates the measured value to the threshold.
type Comparator string

const (
	GTE   Comparator = "gte"
	LTE   Comparator = "lte"
	GT    Comparator = "gt"
	LT    Comparator = "lt"
	EQ    Comparator = "eq"
	NE    Comparator = "ne"
	In    Comparator = "in"
	NotIn Comparator = "not_in"
)

var comparatorAliases = map[string]Comparator{
	">=": GTE, "≥": GTE,
	"<=": LTE, "≤": LTE,
	">": GT, "<": LT,
	"==": EQ, "=": EQ,
	"!=": NE, "≠": NE,
}

// ParseComparator accepts the canonical names and their symbols.
func ParseComparator(s string) (Comparator, error) {
	s = strings.TrimSpace(s)
	if c, ok := comparatorAliases[s]; ok {
		return c, nil
	}
	switch c := Comparator(strings.ToLower(s)); c {
	case GTE, LTE, GT, LT, EQ, NE, In, NotIn:
		return c, nil
	}
	return "", fmt.Errorf("%w: unknown comparator %q", ErrInvalidGate, s)
}

// UnmarshalText lets declarations use symbols such as ">=".
func (c *Comparator) UnmarshalText(b []byte) error {
	parsed, err := ParseComparator(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c Comparator) symbol(exclusive bool) string {
	switch c {
	case GTE:
		if exclusive {
			return ">"
		}
		return ">="
	case LTE:
		if exclusive {
			return "<"
		}
		return "<="
	case GT:
		return ">"
	case LT:
		return "<"
	case EQ:
		return "=="
	case NE:
		return "!="
	case In:
		return "in"
	case NotIn:
		return "not in"
	}
	return string(c)
}

// Severity decides how a failing gate is reported.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// MissingPolicy decides the verdict when the metric cannot be resolved.
type MissingPolicy string

const (
	MissingBlock MissingPolicy = "block"
	MissingWarn  MissingPolicy = "warn"
	MissingPass  MissingPolicy = "pass"
)

// IncompletePolicy decides the verdict of an otherwise passing gate when
// optional tasks have failed earlier in the run.
type IncompletePolicy string

const (
	IncompleteIgnore IncompletePolicy = "ignore"
	IncompleteWarn   IncompletePolicy = "warn"
	IncompleteBlock  IncompletePolicy = "block"
)

// Gate is a declared predicate over run state.
type Gate struct {
	ID          string     `yaml:"id" json:"id"`
	Description string     `yaml:"description" json:"description,omitempty"`
	Metric      string     `yaml:"metric" json:"metric"`
	Comparator  Comparator `yaml:"comparator" json:"comparator"`
	Threshold   float64    `yaml:"threshold" json:"threshold"`
	// Value is the string operand for eq/ne against labels.
	Value string `yaml:"value" json:"value,omitempty"`
	// Values is the set for in/not_in.
	Values []string `yaml:"values" json:"values,omitempty"`
	// Exclusive turns gte/lte into strict bounds.
	Exclusive  bool             `yaml:"exclusive" json:"exclusive,omitempty"`
	Severity   Severity         `yaml:"severity" json:"severity,omitempty"`
	Missing    MissingPolicy    `yaml:"missing" json:"missing,omitempty"`
	Incomplete IncompletePolicy `yaml:"incomplete" json:"incomplete,omitempty"`
}

// Check reports declaration problems. Empty policies are valid and take
// their defaults.
func (g Gate) Check() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: gate %q: %s", ErrInvalidGate, g.ID, fmt.Sprintf(format, args...)))
	}

	if g.ID == "" {
		bad("id is required")
	}
	if _, err := runstate.ParsePath(g.Metric); err != nil {
		bad("metric: %v", err)
	}
	switch g.Comparator {
	case GTE, LTE, GT, LT, EQ, NE:
	case In, NotIn:
		if len(g.Values) == 0 {
			bad("%s requires values", g.Comparator)
		}
	case "":
		bad("comparator is required")
	default:
		bad("unknown comparator %q", g.Comparator)
	}
	if g.Exclusive && g.Comparator != GTE && g.Comparator != LTE {
		bad("exclusive only applies to gte and lte")
	}
	switch g.Severity {
	case "", SeverityWarning, SeverityError, SeverityCritical:
	default:
		bad("unknown severity %q", g.Severity)
	}
	switch g.Missing {
	case "", MissingBlock, MissingWarn, MissingPass:
	default:
		bad("unknown missing policy %q", g.Missing)
	}
	switch g.Incomplete {
	case "", IncompleteIgnore, IncompleteWarn, IncompleteBlock:
	default:
		bad("unknown incomplete policy %q", g.Incomplete)
	}
	return errors.Join(errs...)
}

// HasThreshold reports whether Threshold takes part in the comparison.
// Set comparators and eq/ne against a string Value ignore it.
func (g Gate) HasThreshold() bool {
	switch g.Comparator {
	case In, NotIn:
		return false
	case EQ, NE:
		return g.Value == ""
	}
	return true
}

// WithThreshold returns a copy of g with a new numeric threshold.
func (g Gate) WithThreshold(t float64) Gate {
	g.Threshold = t
	return g
}

func (g Gate) severity() Severity {
	if g.Severity == "" {
		return SeverityError
	}
	return g.Severity
}

func (g Gate) missing() MissingPolicy {
	if g.Missing == "" {
		return MissingBlock
	}
	return g.Missing
}

func (g Gate) incomplete() IncompletePolicy {
	if g.Incomplete == "" {
		return IncompleteWarn
	}
	return g.Incomplete
}

// describeThreshold renders the operand side of the predicate.
func (g Gate) describeThreshold() any {
	switch g.Comparator {
	case In, NotIn:
		return append([]string(nil), g.Values...)
	case EQ, NE:
		if g.Value != "" {
			return g.Value
		}
	}
	return g.Threshold
}
