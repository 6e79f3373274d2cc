// Package moderation scans user-authored text with a fixed battery of
// heuristics and reports one Finding per heuristic that fires.
package moderation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/usfnet/sentinel/internal/models"
)

// Finding kinds produced by the content heuristics.
const (
	KindForbiddenTerm  = "forbidden_term"
	KindExcessiveCaps  = "excessive_caps"
	KindRepetitiveText = "repetitive_content"
)

// Rules configures the heuristics. The zero value disables nothing; use
// DefaultRules for production thresholds.
type Rules struct {
	// ForbiddenTerms are matched case-insensitively as substrings.
	ForbiddenTerms []string
	// CapsRatioThreshold is the uppercase/length ratio that must be exceeded.
	CapsRatioThreshold float64
	// CapsMinLength is the length that must be exceeded before the caps
	// check applies.
	CapsMinLength int
	// RepetitionMinWords is the word count that must be exceeded before the
	// repetition check applies.
	RepetitionMinWords int
	// UniqueRatioThreshold is the distinct/total word ratio below which
	// content counts as repetitive.
	UniqueRatioThreshold float64
}

// DefaultRules returns the production thresholds.
func DefaultRules() Rules {
	return Rules{
		ForbiddenTerms:       []string{"spam", "scam", "fraud", "phishing", "malware"},
		CapsRatioThreshold:   0.7,
		CapsMinLength:        20,
		RepetitionMinWords:   10,
		UniqueRatioThreshold: 0.3,
	}
}

// ─── rule table ───────────────────────────────────────────────────────────────

type rule struct {
	name  string
	check func(content string) []models.Finding
}

// Evaluator runs the content heuristics in declaration order. It holds no
// mutable state and is safe for concurrent use.
type Evaluator struct {
	rules Rules
	terms []string
	table []rule
}

// NewEvaluator builds an Evaluator for the given rules.
func NewEvaluator(rules Rules) *Evaluator {
	e := &Evaluator{rules: rules}
	for _, t := range rules.ForbiddenTerms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			e.terms = append(e.terms, t)
		}
	}
	e.table = []rule{
		{name: KindForbiddenTerm, check: e.checkForbiddenTerms},
		{name: KindExcessiveCaps, check: e.checkCaps},
		{name: KindRepetitiveText, check: e.checkRepetition},
	}
	return e
}

// Rules returns the configuration the evaluator was built with.
func (e *Evaluator) Rules() Rules {
	return e.rules
}

// Evaluate returns the findings for content. Empty content yields none.
func (e *Evaluator) Evaluate(content string) []models.Finding {
	findings := []models.Finding{}
	for _, r := range e.table {
		findings = append(findings, r.check(content)...)
	}
	return findings
}

// checkForbiddenTerms emits one finding per denylisted term found anywhere
// in the content, including inside longer words.
func (e *Evaluator) checkForbiddenTerms(content string) []models.Finding {
	if len(e.terms) == 0 || content == "" {
		return nil
	}
	lower := strings.ToLower(content)
	var out []models.Finding
	for _, term := range e.terms {
		if strings.Contains(lower, term) {
			out = append(out, models.Finding{
				Kind:     KindForbiddenTerm,
				Severity: models.SeverityMedium,
				Message:  fmt.Sprintf("Contains inappropriate language: %q", term),
				Details:  map[string]interface{}{"term": term},
			})
		}
	}
	return out
}

func (e *Evaluator) checkCaps(content string) []models.Finding {
	length := utf8.RuneCountInString(content)
	if length <= e.rules.CapsMinLength || length == 0 {
		return nil
	}
	upper := 0
	for _, r := range content {
		if unicode.IsUpper(r) {
			upper++
		}
	}
	ratio := float64(upper) / float64(length)
	if ratio <= e.rules.CapsRatioThreshold {
		return nil
	}
	return []models.Finding{{
		Kind:     KindExcessiveCaps,
		Severity: models.SeverityMedium,
		Message:  "Excessive use of capital letters",
		Details: map[string]interface{}{
			"caps_ratio": ratio,
			"length":     length,
		},
	}}
}

func (e *Evaluator) checkRepetition(content string) []models.Finding {
	words := strings.Fields(content)
	if len(words) <= e.rules.RepetitionMinWords || len(words) == 0 {
		return nil
	}
	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[w] = struct{}{}
	}
	ratio := float64(len(unique)) / float64(len(words))
	if ratio >= e.rules.UniqueRatioThreshold {
		return nil
	}
	return []models.Finding{{
		Kind:     KindRepetitiveText,
		Severity: models.SeverityMedium,
		Message:  "Repetitive content detected",
		Details: map[string]interface{}{
			"unique_ratio": ratio,
			"word_count":   len(words),
		},
	}}
}
