package orchestrator

import (
	"fmt"
	"math"
	"sort"

	"github.com/fyrsmithlabs/assessd/internal/contract"
	"github.com/fyrsmithlabs/assessd/internal/gate"
	"github.com/fyrsmithlabs/assessd/internal/process"
)

// Keys of a modify payload.
const (
	ModifyMetrics    = "metrics"
	ModifyLabels     = "labels"
	ModifyThresholds = "thresholds"
)

// overrides is a parsed modify payload:
//
//	{"metrics": {"complianceScore": 81}, "labels": {"level": "AA"},
//	 "thresholds": {"min-score": 75}}
type overrides struct {
	metrics    map[string]float64
	labels     map[string]string
	thresholds map[string]float64
}

// parseOverrides validates a modify payload against def. Thresholds may
// only target numeric gates that def declares.
func parseOverrides(payload map[string]any, def *process.Definition) (overrides, error) {
	var o overrides
	var errs contract.FieldErrors

	if len(payload) == 0 {
		return o, contract.FieldErrors{{Reason: "modify requires at least one of metrics, labels, thresholds"}}
	}

	for _, key := range sortedKeys(payload) {
		switch key {
		case ModifyMetrics, ModifyLabels, ModifyThresholds:
		default:
			errs = append(errs, contract.FieldError{Path: key, Reason: "unknown key"})
		}
	}

	o.metrics = numbers(payload, ModifyMetrics, &errs)
	o.thresholds = numbers(payload, ModifyThresholds, &errs)

	if raw, ok := payload[ModifyLabels]; ok {
		obj, ok := raw.(map[string]any)
		if !ok {
			errs = append(errs, contract.FieldError{Path: ModifyLabels, Reason: "expected object"})
		}
		for _, name := range sortedKeys(obj) {
			s, ok := obj[name].(string)
			if !ok {
				errs = append(errs, contract.FieldError{Path: ModifyLabels + "." + name, Reason: "expected string"})
				continue
			}
			if o.labels == nil {
				o.labels = make(map[string]string)
			}
			o.labels[name] = s
		}
	}

	for _, id := range sortedKeys(o.thresholds) {
		path := ModifyThresholds + "." + id
		g, ok := def.Gate(id)
		if !ok {
			errs = append(errs, contract.FieldError{Path: path, Reason: "no such gate"})
			continue
		}
		if !g.HasThreshold() {
			errs = append(errs, contract.FieldError{Path: path, Reason: fmt.Sprintf("gate compares with %s and has no numeric threshold", g.Comparator)})
		}
	}

	if len(errs) > 0 {
		return overrides{}, errs
	}
	return o, nil
}

func numbers(payload map[string]any, key string, errs *contract.FieldErrors) map[string]float64 {
	raw, ok := payload[key]
	if !ok {
		return nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		*errs = append(*errs, contract.FieldError{Path: key, Reason: "expected object"})
		return nil
	}
	var out map[string]float64
	for _, name := range sortedKeys(obj) {
		n, ok := contract.AsNumber(obj[name])
		if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
			*errs = append(*errs, contract.FieldError{Path: key + "." + name, Reason: "expected finite number"})
			continue
		}
		if out == nil {
			out = make(map[string]float64)
		}
		out[name] = n
	}
	return out
}

// applyThresholds returns gates with overridden thresholds substituted.
func applyThresholds(gates []gate.Gate, thresholds map[string]float64) []gate.Gate {
	if len(thresholds) == 0 {
		return gates
	}
	out := make([]gate.Gate, len(gates))
	for i, g := range gates {
		if t, ok := thresholds[g.ID]; ok {
			g = g.WithThreshold(t)
		}
		out[i] = g
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
