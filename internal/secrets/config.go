package secrets

import (
	"errors"
	"fmt"
	"regexp"
)

const defaultRedaction = "[REDACTED]"

// Config configures a Scrubber.
type Config struct {
	Enabled bool `koanf:"enabled"`

	// Gitleaks adds the gitleaks default rule set on top of Rules.
	Gitleaks bool `koanf:"gitleaks"`

	Rules []Rule `koanf:"rules"`

	// RedactionString replaces each detected secret.
	RedactionString string `koanf:"redaction_string"`

	// AllowList matches are never redacted, whichever rule found them.
	AllowList []string `koanf:"allow_list"`
}

// Rule is a regular-expression detector. When Keywords is set the pattern
// only runs on content containing one of them, case-insensitively.
type Rule struct {
	ID          string   `koanf:"id"`
	Description string   `koanf:"description"`
	Pattern     string   `koanf:"pattern"`
	Keywords    []string `koanf:"keywords"`
}

// DefaultConfig enables the built-in rules and gitleaks.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		Gitleaks:        true,
		RedactionString: defaultRedaction,
		Rules:           DefaultRules(),
	}
}

// Validate reports every rule or allow-list entry that does not compile.
func (c *Config) Validate() error {
	_, err := c.compile()
	return err
}

// ruleset is the compiled form of a Config.
type ruleset struct {
	rules       []compiledRule
	allow       []*regexp.Regexp
	replacement string
}

type compiledRule struct {
	Rule
	pattern  *regexp.Regexp
	keywords *regexp.Regexp
}

func (c *Config) compile() (*ruleset, error) {
	rs := &ruleset{replacement: c.RedactionString}
	if rs.replacement == "" {
		rs.replacement = defaultRedaction
	}
	if !c.Enabled {
		return rs, nil
	}

	var errs []error
	for i, rule := range c.Rules {
		switch {
		case rule.ID == "":
			errs = append(errs, fmt.Errorf("rule %d: id is required", i))
			continue
		case rule.Pattern == "":
			errs = append(errs, fmt.Errorf("rule %s: pattern is required", rule.ID))
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))
			continue
		}
		cr := compiledRule{Rule: rule, pattern: re}
		if len(rule.Keywords) > 0 {
			cr.keywords = keywordPattern(rule.Keywords)
		}
		rs.rules = append(rs.rules, cr)
	}

	for i, p := range c.AllowList {
		re, err := regexp.Compile(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("allow_list[%d]: %w", i, err))
			continue
		}
		rs.allow = append(rs.allow, re)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rs, nil
}

// keywordPattern folds keywords into one case-insensitive alternation.
func keywordPattern(keywords []string) *regexp.Regexp {
	expr := "(?i)"
	for i, kw := range keywords {
		if i > 0 {
			expr += "|"
		}
		expr += regexp.QuoteMeta(kw)
	}
	return regexp.MustCompile(expr)
}

func (r *compiledRule) applies(content string) bool {
	return r.keywords == nil || r.keywords.MatchString(content)
}

func (rs *ruleset) allowed(match string) bool {
	for _, re := range rs.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}
