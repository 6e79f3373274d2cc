// Package engine runs the evaluate, aggregate and dispatch pipeline for
// forum content and login attempts, and applies manual moderator overrides.
package engine

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/usfnet/sentinel/internal/anomaly"
	"github.com/usfnet/sentinel/internal/audit"
	"github.com/usfnet/sentinel/internal/config"
	"github.com/usfnet/sentinel/internal/db"
	"github.com/usfnet/sentinel/internal/dispatch"
	"github.com/usfnet/sentinel/internal/metrics"
	"github.com/usfnet/sentinel/internal/models"
	"github.com/usfnet/sentinel/internal/moderation"
	"github.com/usfnet/sentinel/internal/scoring"
)

// Dispatcher is the alert side of the pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, subj dispatch.Subject, decision models.RiskDecision) (*dispatch.Result, error)
}

// Options are the tunable rule sets.
type Options struct {
	// RuleSetVersion is stamped on every dispatched subject so alerts
	// raised under different rule sets never collapse into one.
	RuleSetVersion string
	Rules          moderation.Rules
	Anomaly        anomaly.Config
	Weights        scoring.Weights
}

// DefaultOptions returns the production rule sets.
func DefaultOptions() Options {
	return Options{
		Rules:   moderation.DefaultRules(),
		Anomaly: anomaly.DefaultConfig(),
		Weights: scoring.DefaultWeights(),
	}
}

// OptionsFromConfig maps the moderation, security and risk config sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Rules: moderation.Rules{
			ForbiddenTerms:       append([]string(nil), cfg.Moderation.ForbiddenTerms...),
			CapsRatioThreshold:   cfg.Moderation.CapsRatioThreshold,
			CapsMinLength:        cfg.Moderation.CapsMinLength,
			RepetitionMinWords:   cfg.Moderation.RepetitionMinWords,
			UniqueRatioThreshold: cfg.Moderation.UniqueRatioThreshold,
		},
		Anomaly: anomaly.Config{
			MinHourHistory: cfg.Security.MinHourHistory,
			TravelWindow:   time.Duration(cfg.Security.TravelWindowMinutes) * time.Minute,
			Lookback:       time.Duration(cfg.Security.LookbackDays) * 24 * time.Hour,
		},
		Weights:        scoring.WeightsFromConfig(cfg.Risk.Weights),
		RuleSetVersion: cfg.Risk.RuleSetVersion,
	}
}

// pipeline is an immutable snapshot of the evaluators. A request uses one
// snapshot from start to finish.
type pipeline struct {
	ruleSetVersion string
	content        *moderation.Evaluator
	logins         *anomaly.Detector
	aggregator     *scoring.Aggregator
}

func newPipeline(opts Options) *pipeline {
	return &pipeline{
		ruleSetVersion: opts.RuleSetVersion,
		content:        moderation.NewEvaluator(opts.Rules),
		logins:         anomaly.NewDetector(opts.Anomaly),
		aggregator:     scoring.NewAggregator(opts.Weights),
	}
}

// Engine is safe for concurrent use.
type Engine struct {
	store      db.Store
	dispatcher Dispatcher
	audit      audit.Logger
	logger     *zap.Logger
	pipeline   atomic.Pointer[pipeline]
	now        func() time.Time
}

// New creates an engine. Nil audit or zap loggers are replaced by no-ops.
func New(store db.Store, dispatcher Dispatcher, opts Options, auditLog audit.Logger, logger *zap.Logger) *Engine {
	if auditLog == nil {
		auditLog = audit.NewNopLogger()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:      store,
		dispatcher: dispatcher,
		audit:      auditLog,
		logger:     logger.Named("engine"),
		now:        func() time.Time { return time.Now().UTC() },
	}
	e.pipeline.Store(newPipeline(opts))
	return e
}

// Reconfigure swaps the rule sets. In-flight requests finish on the old ones.
func (e *Engine) Reconfigure(opts Options) {
	e.pipeline.Store(newPipeline(opts))
	e.logger.Info("Rule sets reloaded",
		zap.String("rule_set", opts.RuleSetVersion),
		zap.Int("forbidden_terms", len(opts.Rules.ForbiddenTerms)),
		zap.Duration("lookback", opts.Anomaly.Lookback),
	)
}

// Ping reports whether the backing store is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// ListAlerts returns stored alerts, newest first.
func (e *Engine) ListAlerts(ctx context.Context, filter db.AlertFilter) ([]*models.Alert, error) {
	recs, err := e.store.ListAlerts(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Alert, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.ToModel())
	}
	return out, nil
}

// GetAlert returns one stored alert.
func (e *Engine) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	rec, err := e.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.ToModel(), nil
}

// observe records the metrics common to both evaluators.
func observe(evaluator string, decision models.RiskDecision, started time.Time) {
	metrics.EvaluationDuration.WithLabelValues(evaluator).Observe(time.Since(started).Seconds())
	metrics.EvaluationsTotal.WithLabelValues(evaluator, string(decision.Action)).Inc()
	metrics.RiskScore.WithLabelValues(evaluator).Observe(float64(decision.Score))
	for _, f := range decision.Findings {
		metrics.FindingsTotal.WithLabelValues(f.Kind, string(f.Severity)).Inc()
	}
}
