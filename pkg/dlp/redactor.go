// Package dlp masks patient identifiers in free text before it leaves the
// process, such as note excerpts sent to an external classifier.
package dlp

import (
	"regexp"
	"sort"
)

type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

type Redactor struct {
	rules []compiledRule
}

func NewRedactor(cfg RulesConfig) (*Redactor, error) {
	var compiled []compiledRule
	for _, rule := range cfg.Rules {
		if !rule.Enabled {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, compiledRule{rule: rule, re: re})
	}
	return &Redactor{rules: compiled}, nil
}

// Redact masks every rule match in text and returns the identifier types
// that were found. A nil Redactor returns text unchanged.
func (r *Redactor) Redact(text string) (string, []string) {
	if r == nil {
		return text, nil
	}
	found := make(map[string]struct{})
	for _, rule := range r.rules {
		if !rule.re.MatchString(text) {
			continue
		}
		found[rule.rule.Type] = struct{}{}
		text = rule.re.ReplaceAllLiteralString(text, rule.rule.Mask)
	}
	types := make([]string, 0, len(found))
	for t := range found {
		types = append(types, t)
	}
	sort.Strings(types)
	return text, types
}

// RedactAll applies Redact to each text.
func (r *Redactor) RedactAll(texts []string) ([]string, []string) {
	out := make([]string, len(texts))
	seen := make(map[string]struct{})
	for i, text := range texts {
		var types []string
		out[i], types = r.Redact(text)
		for _, t := range types {
			seen[t] = struct{}{}
		}
	}
	all := make([]string, 0, len(seen))
	for t := range seen {
		all = append(all, t)
	}
	sort.Strings(all)
	return out, all
}
