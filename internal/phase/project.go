package phase

import (
	"fmt"
	"sort"

	"github.com/fyrsmithlabs/assessd/internal/contract"
	"github.com/fyrsmithlabs/assessd/internal/dispatch"
	"github.com/fyrsmithlabs/assessd/internal/runstate"
)

// Output fields folded into the run state.
const (
	FieldArtifacts = "artifacts"
	FieldFindings  = "findings"
	FieldMetrics   = "metrics"
	FieldLabels    = "labels"
)

// contribution is what one task adds to its phase result.
type contribution struct {
	artifacts []runstate.Artifact
	findings  []runstate.Finding
	metrics   map[string]float64
	labels    map[string]string
}

// project extracts the folded fields of a validated output. A value of the
// wrong shape is reported as an invalid output.
func project(phaseID string, t Task, output map[string]any) (contribution, error) {
	var c contribution
	var errs contract.FieldErrors

	if raw, ok := output[FieldArtifacts]; ok {
		items, ok := contract.AsArray(raw)
		if !ok {
			errs = append(errs, contract.FieldError{Path: FieldArtifacts, Reason: "expected array"})
		}
		for i, item := range items {
			a, reason := artifactFrom(item)
			if reason != "" {
				errs = append(errs, contract.FieldError{Path: fmt.Sprintf("%s[%d]", FieldArtifacts, i), Reason: reason})
				continue
			}
			a.TaskID, a.Phase = t.ID, phaseID
			c.artifacts = append(c.artifacts, a)
		}
	}

	if raw, ok := output[FieldFindings]; ok {
		items, ok := contract.AsArray(raw)
		if !ok {
			errs = append(errs, contract.FieldError{Path: FieldFindings, Reason: "expected array"})
		}
		for i, item := range items {
			f, fe := findingFrom(item)
			if fe != nil {
				fe.Path = fmt.Sprintf("%s[%d]%s", FieldFindings, i, fe.Path)
				errs = append(errs, *fe)
				continue
			}
			f.TaskID, f.Phase = t.ID, phaseID
			c.findings = append(c.findings, f)
		}
	}

	if raw, ok := output[FieldMetrics]; ok {
		obj, ok := raw.(map[string]any)
		if !ok {
			errs = append(errs, contract.FieldError{Path: FieldMetrics, Reason: "expected object"})
		}
		for _, name := range sortedKeys(obj) {
			n, ok := contract.AsNumber(obj[name])
			if !ok {
				errs = append(errs, contract.FieldError{Path: FieldMetrics + "." + name, Reason: "expected number"})
				continue
			}
			c.setMetric(name, n)
		}
	}

	if raw, ok := output[FieldLabels]; ok {
		obj, ok := raw.(map[string]any)
		if !ok {
			errs = append(errs, contract.FieldError{Path: FieldLabels, Reason: "expected object"})
		}
		for _, name := range sortedKeys(obj) {
			s, ok := obj[name].(string)
			if !ok {
				errs = append(errs, contract.FieldError{Path: FieldLabels + "." + name, Reason: "expected string"})
				continue
			}
			c.setLabel(name, s)
		}
	}

	for _, name := range sortedKeys(t.Export) {
		path := t.Export[name]
		v, ok := walk(output, path)
		if !ok {
			errs = append(errs, contract.FieldError{Path: path, Reason: fmt.Sprintf("exported as %q but missing", name)})
			continue
		}
		if s, ok := v.(string); ok {
			c.setLabel(name, s)
			continue
		}
		n, ok := contract.AsNumber(v)
		if !ok {
			errs = append(errs, contract.FieldError{Path: path, Reason: fmt.Sprintf("exported as %q but not a number or string", name)})
			continue
		}
		c.setMetric(name, n)
	}

	if len(errs) > 0 {
		return contribution{}, &dispatch.Error{
			Kind:         dispatch.KindInvalidOutput,
			ContractKind: t.Kind,
			Fields:       errs,
		}
	}
	return c, nil
}

func (c *contribution) setMetric(name string, v float64) {
	if c.metrics == nil {
		c.metrics = make(map[string]float64)
	}
	c.metrics[name] = v
}

func (c *contribution) setLabel(name, v string) {
	if c.labels == nil {
		c.labels = make(map[string]string)
	}
	c.labels[name] = v
}

// artifactFrom accepts a bare path or an object with path, format, label.
func artifactFrom(v any) (runstate.Artifact, string) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return runstate.Artifact{}, "empty path"
		}
		return runstate.Artifact{Path: t}, ""
	case map[string]any:
		path, _ := t["path"].(string)
		if path == "" {
			return runstate.Artifact{}, "path is required"
		}
		format, _ := t["format"].(string)
		label, _ := t["label"].(string)
		return runstate.Artifact{Path: path, Format: format, Label: label}, ""
	}
	return runstate.Artifact{}, "expected string or object"
}

func findingFrom(v any) (runstate.Finding, *contract.FieldError) {
	obj, ok := v.(map[string]any)
	if !ok {
		return runstate.Finding{}, &contract.FieldError{Reason: "expected object"}
	}
	raw, _ := obj["severity"].(string)
	sev, err := runstate.ParseSeverity(raw)
	if err != nil {
		return runstate.Finding{}, &contract.FieldError{Path: ".severity", Reason: err.Error()}
	}
	f := runstate.Finding{Severity: sev}
	f.Category, _ = obj["category"].(string)
	f.Detail, _ = obj["detail"].(string)
	f.Location, _ = obj["location"].(string)
	return f, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
