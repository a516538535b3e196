package secrets

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Scrubber redacts secrets from text and from structured documents.
type Scrubber interface {
	Scrub(content string) *Result

	// ScrubValue returns a redacted deep copy of v. Strings inside maps
	// and slices are scrubbed and other values are copied as is. A
	// disabled Scrubber returns v itself.
	ScrubValue(v any) (any, Report)

	Enabled() bool
}

type scrubber struct {
	enabled bool
	rules   *ruleset

	// Detector scans are serialized; it keeps per-scan state.
	leaksMu sync.Mutex
	leaks   *detect.Detector
}

type span struct{ start, end int }

// New creates a Scrubber. A nil cfg means DefaultConfig().
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	rs, err := cfg.compile()
	if err != nil {
		return nil, fmt.Errorf("secrets config: %w", err)
	}

	s := &scrubber{enabled: cfg.Enabled, rules: rs}
	if cfg.Enabled && cfg.Gitleaks {
		if s.leaks, err = detect.NewDetectorDefaultConfig(); err != nil {
			return nil, fmt.Errorf("load gitleaks rules: %w", err)
		}
	}
	return s, nil
}

// MustNew is like New but panics on error.
func MustNew(cfg *Config) Scrubber {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *scrubber) Enabled() bool { return s.enabled }

func (s *scrubber) Scrub(content string) *Result {
	result := &Result{Scrubbed: content, ByRule: make(map[string]int)}
	if !s.enabled || content == "" {
		return result
	}

	var spans []span
	record := func(f Finding) {
		if s.rules.allowed(content[f.StartIndex:f.EndIndex]) {
			return
		}
		f.Line = 1 + strings.Count(content[:f.StartIndex], "\n")
		result.Findings = append(result.Findings, f)
		result.ByRule[f.RuleID]++
		spans = append(spans, span{f.StartIndex, f.EndIndex})
	}

	for i := range s.rules.rules {
		r := &s.rules.rules[i]
		if !r.applies(content) {
			continue
		}
		for _, loc := range r.pattern.FindAllStringIndex(content, -1) {
			record(Finding{RuleID: r.ID, Description: r.Description, Source: "builtin", StartIndex: loc[0], EndIndex: loc[1]})
		}
	}

	for _, f := range s.detectLeaks(content) {
		// gitleaks reports line columns, so every occurrence is located by value.
		for from := 0; ; {
			idx := strings.Index(content[from:], f.Secret)
			if idx < 0 {
				break
			}
			start := from + idx
			from = start + len(f.Secret)
			record(Finding{RuleID: f.RuleID, Description: f.Description, Source: "gitleaks", StartIndex: start, EndIndex: from})
		}
	}

	if len(spans) > 0 {
		result.Scrubbed = redact(content, spans, s.rules.replacement)
	}
	return result
}

type leak struct {
	RuleID, Description, Secret string
}

func (s *scrubber) detectLeaks(content string) []leak {
	if s.leaks == nil {
		return nil
	}
	s.leaksMu.Lock()
	found := s.leaks.DetectString(content)
	s.leaksMu.Unlock()

	leaks := make([]leak, 0, len(found))
	for _, f := range found {
		if f.Secret != "" {
			leaks = append(leaks, leak{RuleID: f.RuleID, Description: f.Description, Secret: f.Secret})
		}
	}
	return leaks
}

func (s *scrubber) ScrubValue(v any) (any, Report) {
	var report Report
	if !s.enabled {
		return v, report
	}
	return s.walk(v, &report), report
}

func (s *scrubber) text(in string, report *Report) string {
	res := s.Scrub(in)
	report.add(res)
	return res.Scrubbed
}

func (s *scrubber) walk(v any, report *Report) any {
	switch t := v.(type) {
	case string:
		return s.text(t, report)
	case []string:
		out := make([]string, len(t))
		for i, e := range t {
			out[i] = s.text(e, report)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, e := range t {
			out[k] = s.text(e, report)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = s.walk(e, report)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = s.walk(e, report)
		}
		return out
	default:
		return v
	}
}

// redact replaces each span with repl, merging spans that overlap.
func redact(content string, spans []span, repl string) string {
	slices.SortFunc(spans, func(a, b span) int { return cmp.Compare(a.start, b.start) })

	var b strings.Builder
	end := -1
	for _, sp := range spans {
		if end >= 0 && sp.start <= end {
			end = max(end, sp.end)
			continue
		}
		b.WriteString(content[max(end, 0):sp.start])
		b.WriteString(repl)
		end = sp.end
	}
	b.WriteString(content[end:])
	return b.String()
}

// NoopScrubber returns everything unchanged.
type NoopScrubber struct{}

func (NoopScrubber) Scrub(content string) *Result {
	return &Result{Scrubbed: content, ByRule: map[string]int{}}
}

func (NoopScrubber) ScrubValue(v any) (any, Report) { return v, Report{} }

func (NoopScrubber) Enabled() bool { return false }

var (
	_ Scrubber = (*scrubber)(nil)
	_ Scrubber = NoopScrubber{}
)
