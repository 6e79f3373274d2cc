package moderation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usfnet/sentinel/internal/models"
)

func kinds(findings []models.Finding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Kind)
	}
	return out
}

func TestEvaluate_CapsAndRepetition(t *testing.T) {
	e := NewEvaluator(DefaultRules())

	findings := e.Evaluate("BUY NOW BUY NOW BUY NOW BUY NOW BUY NOW BUY")

	assert.Equal(t, []string{KindExcessiveCaps, KindRepetitiveText}, kinds(findings))
	for _, f := range findings {
		assert.Equal(t, models.SeverityMedium, f.Severity)
		assert.False(t, f.AutoBlock)
	}
}

func TestEvaluate_EmptyContent(t *testing.T) {
	e := NewEvaluator(DefaultRules())
	findings := e.Evaluate("")
	assert.NotNil(t, findings)
	assert.Empty(t, findings)
}

func TestEvaluate_CleanContent(t *testing.T) {
	e := NewEvaluator(DefaultRules())
	assert.Empty(t, e.Evaluate("Does anyone know when the community centre opens on Saturday?"))
}

func TestEvaluate_ForbiddenTerms(t *testing.T) {
	e := NewEvaluator(Rules{ForbiddenTerms: []string{"scam", "Fraud"}, CapsMinLength: 1000, RepetitionMinWords: 1000})

	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"no match", "hello there", nil},
		{"case insensitive", "This is a SCAM", []string{"scam"}},
		{"one finding per term", "scam and fraud", []string{"scam", "fraud"}},
		{"repeated term counts once", "scam scam scam", []string{"scam"}},
		{"substring inside a word", "the scammer called", []string{"scam"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := e.Evaluate(tt.content)
			var terms []string
			for _, f := range findings {
				require.Equal(t, KindForbiddenTerm, f.Kind)
				terms = append(terms, f.Details["term"].(string))
			}
			assert.Equal(t, tt.want, terms)
		})
	}
}

func TestEvaluate_CapsThresholds(t *testing.T) {
	e := NewEvaluator(DefaultRules())

	tests := []struct {
		name    string
		content string
		fires   bool
	}{
		{"all caps over min length", strings.Repeat("A", 21), true},
		{"all caps at min length", strings.Repeat("A", 20), false},
		{"ratio exactly at threshold", strings.Repeat("A", 70) + strings.Repeat("a", 30), false},
		{"ratio just above threshold", strings.Repeat("A", 71) + strings.Repeat("a", 29), true},
		{"mixed case", "Hello World, this is a normal sentence.", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := false
			for _, f := range e.Evaluate(tt.content) {
				if f.Kind == KindExcessiveCaps {
					got = true
				}
			}
			assert.Equal(t, tt.fires, got)
		})
	}
}

func TestEvaluate_RepetitionThresholds(t *testing.T) {
	e := NewEvaluator(DefaultRules())

	tests := []struct {
		name    string
		content string
		fires   bool
	}{
		{"ten identical words", strings.TrimSpace(strings.Repeat("go ", 10)), false},
		{"eleven identical words", strings.TrimSpace(strings.Repeat("go ", 11)), true},
		{"eleven distinct words", "one two three four five six seven eight nine ten eleven", false},
		{"whitespace runs collapse", "go   go\tgo\ngo go go go go go go go", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := false
			for _, f := range e.Evaluate(tt.content) {
				if f.Kind == KindRepetitiveText {
					got = true
					assert.Less(t, f.Details["unique_ratio"].(float64), 0.3)
				}
			}
			assert.Equal(t, tt.fires, got)
		})
	}
}

func TestEvaluate_DeclarationOrder(t *testing.T) {
	e := NewEvaluator(DefaultRules())

	findings := e.Evaluate(strings.TrimSpace(strings.Repeat("SCAM ", 12)))

	assert.Equal(t, []string{KindForbiddenTerm, KindExcessiveCaps, KindRepetitiveText}, kinds(findings))
}

func TestNewEvaluator_IgnoresBlankTerms(t *testing.T) {
	e := NewEvaluator(Rules{ForbiddenTerms: []string{"", "  "}, CapsMinLength: 1000, RepetitionMinWords: 1000})
	assert.Empty(t, e.Evaluate("anything at all"))
}

func TestEvaluate_Idempotent(t *testing.T) {
	e := NewEvaluator(DefaultRules())

	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"clean", "The clinic opens at nine on weekdays.", []string{}},
		{"forbidden only", "this looks like a scam to me", []string{KindForbiddenTerm}},
		{"caps and repetition", "BUY NOW BUY NOW BUY NOW BUY NOW BUY NOW BUY", []string{KindExcessiveCaps, KindRepetitiveText}},
		{"all rules", strings.TrimSpace(strings.Repeat("SCAM ", 11)), []string{KindForbiddenTerm, KindExcessiveCaps, KindRepetitiveText}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := e.Evaluate(tt.content)
			second := e.Evaluate(tt.content)

			require.Equal(t, tt.want, kinds(first))
			assert.Equal(t, first, second)
		})
	}

	// Interleaving other inputs leaves no state behind.
	before := e.Evaluate("spam spam")
	e.Evaluate(strings.Repeat("FRAUD ", 20))
	assert.Equal(t, before, e.Evaluate("spam spam"))
}
