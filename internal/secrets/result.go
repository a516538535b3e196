package secrets

import "sort"

// Result describes one scrub of a string.
type Result struct {
	Scrubbed string    `json:"scrubbed"`
	Findings []Finding `json:"findings,omitempty"`
	// ByRule counts findings per rule id.
	ByRule map[string]int `json:"by_rule,omitempty"`
}

// Finding locates a detected secret. The secret itself is never kept.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	// Source is "builtin" or "gitleaks".
	Source     string `json:"source"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
	Line       int    `json:"line,omitempty"`
}

// HasFindings reports whether anything was redacted.
func (r *Result) HasFindings() bool {
	return len(r.Findings) > 0
}

// RuleIDs returns the matched rule ids in sorted order.
func (r *Result) RuleIDs() []string {
	ids := make([]string, 0, len(r.ByRule))
	for id := range r.ByRule {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Report summarizes a structured scrub.
type Report struct {
	Redactions int            `json:"redactions"`
	ByRule     map[string]int `json:"by_rule,omitempty"`
}

func (r *Report) add(res *Result) {
	if !res.HasFindings() {
		return
	}
	if r.ByRule == nil {
		r.ByRule = make(map[string]int)
	}
	for id, n := range res.ByRule {
		r.ByRule[id] += n
		r.Redactions += n
	}
}
