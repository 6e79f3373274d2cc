package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/usfnet/sentinel/internal/anomaly"
	"github.com/usfnet/sentinel/internal/db"
	"github.com/usfnet/sentinel/internal/dispatch"
	"github.com/usfnet/sentinel/internal/models"
	"github.com/usfnet/sentinel/internal/tracing"
)

// Analyze actions and the checks each one runs.
const (
	ActionLoginPattern    = "analyze_login_pattern"
	ActionDeviceAnomaly   = "check_device_anomaly"
	ActionLocationPattern = "analyze_location_pattern"
)

var analyzeChecks = map[string][]anomaly.Check{
	ActionLoginPattern:    {anomaly.CheckTime, anomaly.CheckLocation, anomaly.CheckDevice, anomaly.CheckTravel},
	ActionDeviceAnomaly:   {anomaly.CheckDevice},
	ActionLocationPattern: {anomaly.CheckLocation, anomaly.CheckTravel},
}

// EventData describes the login being analyzed.
type EventData struct {
	Timestamp time.Time `json:"timestamp"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	Location  string    `json:"location"`
	EventID   string    `json:"event_id,omitempty"`
}

// AnalyzeRequest is the body of an analyze call.
type AnalyzeRequest struct {
	Action    string    `json:"action"`
	UserID    string    `json:"user_id"`
	EventData EventData `json:"event_data"`
}

// AnalyzeResult reports the anomalies found for one login.
type AnalyzeResult struct {
	AnomaliesDetected int              `json:"anomalies_detected"`
	Anomalies         []models.Finding `json:"anomalies"`
	RiskScore         int              `json:"risk_score"`
	Decision          models.Action    `json:"decision"`
	AlertID           string           `json:"alert_id,omitempty"`
}

// Analyze compares a login with the user's history inside the lookback. The
// history is read once and excludes logins at or after the event. A flag or
// block dispatches a security alert.
func (e *Engine) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResult, error) {
	checks, ok := analyzeChecks[req.Action]
	if !ok {
		return nil, inputErr("Unknown action")
	}
	if req.UserID == "" {
		return nil, inputErr("user_id is required")
	}

	current := models.LoginEvent{
		ID:             req.EventData.EventID,
		UserID:         req.UserID,
		Timestamp:      req.EventData.Timestamp.UTC(),
		NetworkAddress: req.EventData.IPAddress,
		UserAgent:      req.EventData.UserAgent,
		Location:       req.EventData.Location,
	}
	if req.EventData.Timestamp.IsZero() {
		current.Timestamp = e.now()
	}

	ctx, span := tracing.StartSpan(ctx, "engine.analyze",
		attribute.String("analyze.action", req.Action),
		attribute.String("user.id", req.UserID),
	)
	defer span.End()

	p := e.pipeline.Load()
	window, err := e.history(ctx, req.UserID, current.Timestamp, p.logins.Lookback())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	started := time.Now()
	decision := p.aggregator.Aggregate(p.logins.Evaluate(req.UserID, current, window, checks...))
	observe(models.SourceSecurity, decision, started)
	span.SetAttributes(
		attribute.Int("history.size", len(window)),
		attribute.String("risk.action", string(decision.Action)),
		attribute.Int("risk.score", decision.Score),
	)

	result := &AnalyzeResult{
		AnomaliesDetected: len(decision.Findings),
		Anomalies:         decision.Findings,
		RiskScore:         decision.Score,
		Decision:          decision.Action,
	}
	if decision.Action == models.ActionPass {
		return result, nil
	}

	if err := e.audit.LogLoginDecision(ctx, req.UserID, current.NetworkAddress, decision); err != nil {
		e.logger.Warn("Failed to audit login decision", zap.Error(err))
	}

	subjectID := current.ID
	eventKey := current.ID
	if eventKey == "" {
		subjectID = req.UserID
		eventKey = current.Timestamp.Format(time.RFC3339Nano)
	}
	dispatched, err := e.dispatcher.Dispatch(ctx, dispatch.Subject{
		UserID:         req.UserID,
		EventID:        req.Action + ":" + eventKey,
		RuleSetVersion: p.ruleSetVersion,
		SubjectID:      subjectID,
		SubjectType:    "login",
		Source:         models.SourceSecurity,
		Label:          "Login for " + req.UserID,
		ActionURL:      "/security/alerts?user_id=" + req.UserID,
	}, decision)
	if dispatched != nil && dispatched.Alert != nil {
		result.AlertID = dispatched.Alert.ID
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("dispatch security alert: %w", err)
	}

	e.logger.Info("Login anomaly detected",
		zap.String("user_id", req.UserID),
		zap.String("action", string(decision.Action)),
		zap.Strings("findings", decision.Kinds()),
		zap.Int("history", len(window)),
	)
	return result, nil
}

func (e *Engine) history(ctx context.Context, userID string, at time.Time, lookback time.Duration) (models.HistoricalWindow, error) {
	recs, err := e.store.ListLogins(ctx, userID, at.Add(-lookback), at)
	if err != nil {
		return nil, fmt.Errorf("load login history: %w", err)
	}
	window := make(models.HistoricalWindow, 0, len(recs))
	for _, r := range recs {
		window = append(window, loginFromRecord(r))
	}
	return window, nil
}

// RecordLogin appends a login to the user's history. It does not evaluate it.
func (e *Engine) RecordLogin(ctx context.Context, ev models.LoginEvent) (*models.LoginEvent, error) {
	if ev.UserID == "" {
		return nil, inputErr("user_id is required")
	}
	rec := &db.LoginRecord{
		ID:         ev.ID,
		UserID:     ev.UserID,
		OccurredAt: ev.Timestamp.UTC(),
		IPAddress:  ev.NetworkAddress,
		UserAgent:  ev.UserAgent,
		Location:   ev.Location,
	}
	if ev.Timestamp.IsZero() {
		rec.OccurredAt = e.now()
	}
	if err := e.store.RecordLogin(ctx, rec); err != nil {
		return nil, err
	}
	out := loginFromRecord(rec)
	return &out, nil
}

func loginFromRecord(r *db.LoginRecord) models.LoginEvent {
	return models.LoginEvent{
		ID:             r.ID,
		UserID:         r.UserID,
		Timestamp:      r.OccurredAt.UTC(),
		NetworkAddress: r.IPAddress,
		UserAgent:      r.UserAgent,
		Location:       r.Location,
	}
}
