package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/usfnet/sentinel/internal/db"
	"github.com/usfnet/sentinel/internal/dispatch"
	"github.com/usfnet/sentinel/internal/metrics"
	"github.com/usfnet/sentinel/internal/models"
	"github.com/usfnet/sentinel/internal/tracing"
)

// Moderation request types.
const (
	TypeNewPost         = string(models.EventNewPost)
	TypeNewReply        = string(models.EventNewReply)
	TypeModerateContent = "moderate_content"
)

// Moderator override actions.
const (
	OverrideApprove = "approve"
	OverrideReject  = "reject"
	OverridePin     = "pin"
	OverrideLock    = "lock"
)

// ModerateRequest is the body of a moderate call. Action, Reason and
// ModeratorID apply to moderate_content only.
type ModerateRequest struct {
	Type        string `json:"type"`
	SubjectID   string `json:"subject_id"`
	SubjectType string `json:"subject_type,omitempty"` // post (default) | reply
	Action      string `json:"action,omitempty"`
	Reason      string `json:"reason,omitempty"`
	ModeratorID string `json:"moderator_id,omitempty"`
}

// ModerationResult is the outcome of evaluating a new post or reply.
type ModerationResult struct {
	NeedsModeration bool          `json:"needsModeration"`
	Reasons         []string      `json:"reasons"`
	RiskScore       int           `json:"risk_score"`
	Decision        models.Action `json:"decision"`
	AlertID         string        `json:"alert_id,omitempty"`
}

// OverrideResult echoes the applied moderator action.
type OverrideResult struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// Moderate routes a request to content evaluation or to a moderator
// override. The result is a *ModerationResult or an *OverrideResult.
func (e *Engine) Moderate(ctx context.Context, req ModerateRequest) (interface{}, error) {
	switch req.Type {
	case TypeNewPost, TypeNewReply:
		return e.ModerateContent(ctx, models.EventKind(req.Type), req.SubjectID)
	case TypeModerateContent:
		return e.ApplyOverride(ctx, req)
	default:
		return nil, inputErr("Invalid moderation type")
	}
}

// ModerateContent evaluates a stored post or reply. A flag or block marks the
// subject flagged with the reasons and then dispatches an alert.
func (e *Engine) ModerateContent(ctx context.Context, kind models.EventKind, subjectID string) (*ModerationResult, error) {
	if subjectID == "" {
		return nil, inputErr("subject_id is required")
	}

	ctx, span := tracing.StartSpan(ctx, "engine.moderate",
		attribute.String("event.kind", string(kind)),
		attribute.String("subject.id", subjectID),
	)
	defer span.End()

	event, subj, err := e.loadContent(ctx, kind, subjectID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	p := e.pipeline.Load()
	started := time.Now()
	decision := p.aggregator.Aggregate(p.content.Evaluate(event.Content))
	observe(models.SourceContent, decision, started)
	span.SetAttributes(
		attribute.String("risk.action", string(decision.Action)),
		attribute.Int("risk.score", decision.Score),
	)

	result := &ModerationResult{
		NeedsModeration: decision.Action != models.ActionPass,
		Reasons:         decision.Reasons(),
		RiskScore:       decision.Score,
		Decision:        decision.Action,
	}
	if decision.Action == models.ActionPass {
		return result, nil
	}

	if err := e.markFlagged(ctx, kind, subjectID, result.Reasons); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := e.audit.LogContentDecision(ctx, subj.SubjectType, subjectID, subj.UserID, decision); err != nil {
		e.logger.Warn("Failed to audit content decision", zap.Error(err))
	}

	subj.RuleSetVersion = p.ruleSetVersion
	dispatched, err := e.dispatcher.Dispatch(ctx, subj, decision)
	if dispatched != nil && dispatched.Alert != nil {
		result.AlertID = dispatched.Alert.ID
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("dispatch content alert: %w", err)
	}

	e.logger.Info("Content flagged",
		zap.String("subject_type", subj.SubjectType),
		zap.String("subject_id", subjectID),
		zap.String("action", string(decision.Action)),
		zap.Strings("findings", decision.Kinds()),
	)
	return result, nil
}

func (e *Engine) loadContent(ctx context.Context, kind models.EventKind, id string) (models.Event, dispatch.Subject, error) {
	event := models.Event{Kind: kind}
	subj := dispatch.Subject{
		EventID: string(kind) + ":" + id,
		Source:  models.SourceContent,
	}

	switch kind {
	case models.EventNewPost:
		post, err := e.store.GetPost(ctx, id)
		if err != nil {
			return event, subj, err
		}
		event.SubjectID, event.AuthorID = post.ID, post.AuthorID
		event.Content = strings.TrimSpace(post.Title + "\n" + post.Content)

		subj.UserID, subj.SubjectID, subj.SubjectType = post.AuthorID, post.ID, "post"
		subj.Label = fmt.Sprintf("Post %q", post.Title)
		subj.ActionURL = "/forum/posts/" + post.ID
	case models.EventNewReply:
		reply, err := e.store.GetReply(ctx, id)
		if err != nil {
			return event, subj, err
		}
		event.SubjectID, event.AuthorID = reply.ID, reply.AuthorID
		event.Content = reply.Content

		subj.UserID, subj.SubjectID, subj.SubjectType = reply.AuthorID, reply.ID, "reply"
		subj.Label = "A reply on post " + reply.PostID
		subj.ActionURL = "/forum/posts/" + reply.PostID + "#reply-" + reply.ID
	default:
		return event, subj, inputErr("Invalid moderation type")
	}
	return event, subj, nil
}

func (e *Engine) markFlagged(ctx context.Context, kind models.EventKind, id string, reasons []string) error {
	if kind == models.EventNewReply {
		return e.store.FlagReply(ctx, id, reasons)
	}
	return e.store.FlagPost(ctx, id, reasons)
}

// ApplyOverride applies exactly one moderator field update, without running
// any evaluator, and records it in the moderation log.
func (e *Engine) ApplyOverride(ctx context.Context, req ModerateRequest) (*OverrideResult, error) {
	if req.SubjectID == "" {
		return nil, inputErr("subject_id is required")
	}
	subjectType := req.SubjectType
	if subjectType == "" {
		subjectType = "post"
	}
	if subjectType != "post" && subjectType != "reply" {
		return nil, inputErr("subject_type must be post or reply")
	}

	var (
		field db.SubjectField
		value bool
	)
	switch req.Action {
	case OverrideApprove:
		field, value = db.FieldFlagged, false
	case OverrideReject:
		field, value = db.FieldHidden, true
	case OverridePin:
		field, value = db.FieldPinned, true
	case OverrideLock:
		field, value = db.FieldLocked, true
	case "":
		return nil, inputErr("action is required")
	default:
		return nil, inputErr("Unknown action")
	}
	if subjectType == "reply" && (field == db.FieldPinned || field == db.FieldLocked) {
		return nil, inputErr(req.Action + " applies to posts only")
	}

	ctx, span := tracing.StartSpan(ctx, "engine.override",
		attribute.String("subject.id", req.SubjectID),
		attribute.String("moderation.action", req.Action),
	)
	defer span.End()

	var err error
	if subjectType == "reply" {
		err = e.store.SetReplyField(ctx, req.SubjectID, field, value)
	} else {
		err = e.store.SetPostField(ctx, req.SubjectID, field, value)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := e.store.AppendModerationAction(ctx, &db.ModerationActionRecord{
		SubjectID:   req.SubjectID,
		SubjectType: subjectType,
		ModeratorID: req.ModeratorID,
		Action:      req.Action,
		Reason:      req.Reason,
	}); err != nil {
		span.RecordError(err)
		return nil, err
	}

	metrics.ModerationOverridesTotal.WithLabelValues(req.Action).Inc()
	if err := e.audit.LogModerationOverride(ctx, req.SubjectID, req.ModeratorID, req.Action, req.Reason); err != nil {
		e.logger.Warn("Failed to audit moderation override", zap.Error(err))
	}

	return &OverrideResult{Action: req.Action, Reason: req.Reason}, nil
}
