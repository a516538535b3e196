package runstate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPath is returned by ParsePath for paths outside the grammar.
var ErrInvalidPath = errors.New("invalid metric path")

// Source identifies which part of the run a Path reads.
type Source string

const (
	SourceMetric          Source = "metric"
	SourceLabel           Source = "label"
	SourceFindingCount    Source = "findings.count"
	SourceFindingSeverity Source = "findings.severity"
	SourceFindingAtLeast  Source = "findings.atLeast"
	SourceFindingCategory Source = "findings.category"
	SourceArtifactCount   Source = "artifacts.count"
	SourceFailedTasks     Source = "tasks.failed"
	SourceFailedOptional  Source = "tasks.failed.optional"
)

// Path is a parsed metric path.
type Path struct {
	Raw      string
	Source   Source
	Key      string
	Severity Severity
}

// ParsePath parses a metric path:
//
//	metrics.<name>                 numeric metric
//	labels.<name>                  string label
//	findings.count                 all findings
//	findings.<severity>            findings of exactly that severity
//	findings.count.<severity>      same as above
//	findings.atLeast.<severity>    findings at or above severity
//	findings.category.<category>   findings in a category
//	artifacts.count
//	tasks.failed
//	tasks.failed.optional
//	<severity>Findings             alias, e.g. criticalFindings
//	<name>                         metric, falling back to a label
func ParsePath(raw string) (Path, error) {
	p := Path{Raw: raw}
	if strings.TrimSpace(raw) == "" {
		return p, fmt.Errorf("%w: empty", ErrInvalidPath)
	}

	head, rest, dotted := strings.Cut(raw, ".")
	if !dotted {
		if sev, ok := severityAlias(raw); ok {
			p.Source, p.Severity = SourceFindingSeverity, sev
			return p, nil
		}
		p.Source, p.Key = SourceMetric, raw
		return p, nil
	}

	switch head {
	case "metrics":
		p.Source, p.Key = SourceMetric, rest
	case "labels":
		p.Source, p.Key = SourceLabel, rest
	case "artifacts":
		if rest != "count" {
			return p, fmt.Errorf("%w: %q (artifacts supports only count)", ErrInvalidPath, raw)
		}
		p.Source = SourceArtifactCount
	case "tasks":
		switch rest {
		case "failed":
			p.Source = SourceFailedTasks
		case "failed.optional":
			p.Source = SourceFailedOptional
		default:
			return p, fmt.Errorf("%w: %q (tasks supports failed and failed.optional)", ErrInvalidPath, raw)
		}
	case "findings":
		return parseFindingsPath(p, rest)
	default:
		return p, fmt.Errorf("%w: %q (unknown root %q)", ErrInvalidPath, raw, head)
	}

	if (p.Source == SourceMetric || p.Source == SourceLabel) && p.Key == "" {
		return p, fmt.Errorf("%w: %q (missing name)", ErrInvalidPath, raw)
	}
	return p, nil
}

func parseFindingsPath(p Path, rest string) (Path, error) {
	kind, arg, _ := strings.Cut(rest, ".")
	switch kind {
	case "count":
		if arg == "" {
			p.Source = SourceFindingCount
			return p, nil
		}
		return withSeverity(p, SourceFindingSeverity, arg)
	case "atLeast":
		return withSeverity(p, SourceFindingAtLeast, arg)
	case "category":
		if arg == "" {
			return p, fmt.Errorf("%w: %q (missing category)", ErrInvalidPath, p.Raw)
		}
		p.Source, p.Key = SourceFindingCategory, arg
		return p, nil
	}
	if arg == "" {
		return withSeverity(p, SourceFindingSeverity, kind)
	}
	return p, fmt.Errorf("%w: %q", ErrInvalidPath, p.Raw)
}

func withSeverity(p Path, src Source, name string) (Path, error) {
	sev, err := ParseSeverity(name)
	if err != nil {
		return p, fmt.Errorf("%w: %q (%v)", ErrInvalidPath, p.Raw, err)
	}
	p.Source, p.Severity = src, sev
	return p, nil
}

// severityAlias maps criticalFindings, highFindings and friends.
func severityAlias(name string) (Severity, bool) {
	prefix, ok := strings.CutSuffix(name, "Findings")
	if !ok || prefix == "" {
		return "", false
	}
	sev, err := ParseSeverity(prefix)
	return sev, err == nil
}

// Value is the result of resolving a Path: a number or, for labels, a string.
type Value struct {
	Num      float64
	Str      string
	IsString bool
}

// Number wraps a float64.
func Number(f float64) Value { return Value{Num: f} }

// String wraps a string.
func String(s string) Value { return Value{Str: s, IsString: true} }

func (v Value) String() string {
	if v.IsString {
		return v.Str
	}
	return strconv.FormatFloat(v.Num, 'f', -1, 64)
}

// Resolve reads p from the snapshot. Counts always resolve; metrics and
// labels resolve only when present.
func (s Snapshot) Resolve(p Path) (Value, bool) {
	switch p.Source {
	case SourceMetric:
		if v, ok := s.Metrics[p.Key]; ok {
			return Number(v), true
		}
		// Bare names fall back to labels so set-membership gates can use them.
		if !strings.HasPrefix(p.Raw, "metrics.") {
			if v, ok := s.Labels[p.Key]; ok {
				return String(v), true
			}
		}
		return Value{}, false
	case SourceLabel:
		v, ok := s.Labels[p.Key]
		return String(v), ok
	case SourceFindingCount:
		return Number(float64(len(s.Findings))), true
	case SourceFindingSeverity:
		return Number(float64(s.countFindings(func(f Finding) bool { return f.Severity == p.Severity }))), true
	case SourceFindingAtLeast:
		return Number(float64(s.countFindings(func(f Finding) bool { return f.Severity.AtLeast(p.Severity) }))), true
	case SourceFindingCategory:
		return Number(float64(s.countFindings(func(f Finding) bool { return f.Category == p.Key }))), true
	case SourceArtifactCount:
		return Number(float64(len(s.Artifacts))), true
	case SourceFailedTasks:
		return Number(float64(len(s.Failures))), true
	case SourceFailedOptional:
		return Number(float64(len(s.OptionalFailures()))), true
	}
	return Value{}, false
}

// Lookup parses and resolves path in one step. Unparseable paths are
// reported as missing.
func (s Snapshot) Lookup(path string) (Value, bool) {
	p, err := ParsePath(path)
	if err != nil {
		return Value{}, false
	}
	return s.Resolve(p)
}

func (s Snapshot) countFindings(match func(Finding) bool) int {
	n := 0
	for _, f := range s.Findings {
		if match(f) {
			n++
		}
	}
	return n
}
