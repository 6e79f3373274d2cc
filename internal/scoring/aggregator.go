// Package scoring folds findings into a single risk decision.
package scoring

import (
	"github.com/usfnet/sentinel/internal/models"
)

// Weights maps each severity to the points it contributes to a score.
type Weights map[models.Severity]int

// DefaultWeights returns low=1, medium=3, high=5, critical=10.
func DefaultWeights() Weights {
	return Weights{
		models.SeverityLow:      1,
		models.SeverityMedium:   3,
		models.SeverityHigh:     5,
		models.SeverityCritical: 10,
	}
}

// WeightsFromConfig overlays a severity-name keyed table, as loaded from
// configuration, onto DefaultWeights. Unknown severities are ignored.
func WeightsFromConfig(raw map[string]int) Weights {
	w := DefaultWeights()
	for name, v := range raw {
		sev := models.Severity(name)
		if sev.Valid() {
			w[sev] = v
		}
	}
	return w
}

// Aggregator turns findings into a RiskDecision.
type Aggregator struct {
	weights Weights
}

// NewAggregator creates an aggregator. A nil table uses DefaultWeights.
func NewAggregator(weights Weights) *Aggregator {
	if weights == nil {
		weights = DefaultWeights()
	}
	w := make(Weights, len(weights))
	for k, v := range weights {
		w[k] = v
	}
	return &Aggregator{weights: w}
}

// Score sums the weight of every finding's severity.
func (a *Aggregator) Score(findings []models.Finding) int {
	score := 0
	for _, f := range findings {
		score += a.weights[f.Severity]
	}
	return score
}

// Aggregate scores findings and picks the action: block when any finding
// demands it, flag when there is at least one finding, pass otherwise.
func (a *Aggregator) Aggregate(findings []models.Finding) models.RiskDecision {
	if findings == nil {
		findings = []models.Finding{}
	}
	decision := models.RiskDecision{
		Score:    a.Score(findings),
		Findings: findings,
		Action:   models.ActionPass,
	}
	for _, f := range findings {
		if f.AutoBlock {
			decision.Action = models.ActionBlock
			return decision
		}
	}
	if len(findings) > 0 {
		decision.Action = models.ActionFlag
	}
	return decision
}
