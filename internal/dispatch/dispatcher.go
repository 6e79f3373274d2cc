// Package dispatch persists alerts for flagged and blocked decisions and fans
// the resulting notifications out to their audiences.
package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/usfnet/sentinel/internal/audit"
	"github.com/usfnet/sentinel/internal/db"
	"github.com/usfnet/sentinel/internal/metrics"
	"github.com/usfnet/sentinel/internal/models"
	"github.com/usfnet/sentinel/internal/notify"
)

const maxConcurrentDeliveries = 4

// Config selects who hears about an alert.
type Config struct {
	// RuleSetVersion is folded into the idempotency key so a rule change
	// re-alerts on replayed events. Subject.RuleSetVersion overrides it.
	RuleSetVersion string

	// ContentRoles receive content alerts. Authors are never notified.
	ContentRoles []string

	// SecurityRoles receive security alerts. Empty means alert-only.
	SecurityRoles []string

	// NotifyUser additionally notifies the account owner of a security alert.
	NotifyUser bool

	// BaseURL prefixes Subject.ActionURL in notifications.
	BaseURL string
}

// Subject identifies what a decision was made about.
type Subject struct {
	UserID         string // author of the content or owner of the login
	EventID        string // stable id of the evaluated event
	RuleSetVersion string // rule set the decision was made under; empty uses Config
	SubjectID      string // post, reply or login id
	SubjectType    string // post | reply | login
	Source         string // models.SourceContent | models.SourceSecurity
	Label          string // human readable name used in notification text
	ActionURL      string
}

// Delivery is the outcome of notifying one audience.
type Delivery struct {
	Audience notify.Audience `json:"audience"`
	Err      error           `json:"-"`
}

// Result describes what Dispatch did.
type Result struct {
	Action       models.Action `json:"action"`
	Alert        *models.Alert `json:"alert,omitempty"`
	Deduplicated bool          `json:"deduplicated"`
	Deliveries   []Delivery    `json:"deliveries,omitempty"`
}

// Failed returns the deliveries that did not succeed.
func (r *Result) Failed() []Delivery {
	var out []Delivery
	for _, d := range r.Deliveries {
		if d.Err != nil {
			out = append(out, d)
		}
	}
	return out
}

// Dispatcher turns non-pass decisions into alerts and notifications.
type Dispatcher struct {
	alerts   db.AlertStore
	notifier notify.Notifier
	config   Config
	audit    audit.Logger
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher. A nil audit logger or zap logger is
// replaced by a no-op.
func NewDispatcher(alerts db.AlertStore, notifier notify.Notifier, cfg Config, auditLog audit.Logger, logger *zap.Logger) *Dispatcher {
	if auditLog == nil {
		auditLog = audit.NewNopLogger()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		alerts:   alerts,
		notifier: notifier,
		config:   cfg,
		audit:    auditLog,
		logger:   logger.Named("dispatch"),
	}
}

// IdempotencyKey derives the alert key for one evaluation of one event.
func IdempotencyKey(userID, eventID, ruleSetVersion string) string {
	sum := sha256.Sum256([]byte(userID + "|" + eventID + "|" + ruleSetVersion))
	return hex.EncodeToString(sum[:])
}

// Dispatch persists one alert and notifies every configured audience. It does
// nothing for a pass decision. When the alert cannot be stored no
// notification is attempted. Notification failures are combined into the
// returned error alongside a populated Result; the alert is kept.
func (d *Dispatcher) Dispatch(ctx context.Context, subj Subject, decision models.RiskDecision) (*Result, error) {
	result := &Result{Action: decision.Action}
	if decision.Action == models.ActionPass {
		return result, nil
	}

	alert, created, err := d.persist(ctx, subj, decision)
	if err != nil {
		metrics.AlertsTotal.WithLabelValues(subj.Source, "error").Inc()
		return nil, err
	}
	result.Alert = alert
	result.Deduplicated = !created

	if created {
		metrics.AlertsTotal.WithLabelValues(subj.Source, "created").Inc()
	} else {
		metrics.AlertsTotal.WithLabelValues(subj.Source, "deduplicated").Inc()
		d.logger.Info("Alert already recorded for event",
			zap.String("alert_id", alert.ID),
			zap.String("user_id", subj.UserID),
			zap.String("event_id", subj.EventID),
		)
	}
	if err := d.audit.LogAlert(ctx, alert.ID, subj.UserID, subj.Source, !created); err != nil {
		d.logger.Warn("Failed to audit alert", zap.Error(err))
	}

	note := d.compose(subj, decision)
	audiences := d.audiences(subj)
	result.Deliveries = make([]Delivery, len(audiences))

	g := new(errgroup.Group)
	g.SetLimit(maxConcurrentDeliveries)
	for i, aud := range audiences {
		i, aud := i, aud
		result.Deliveries[i].Audience = aud
		g.Go(func() error {
			n := note
			n.Audience = aud
			result.Deliveries[i].Err = d.notifier.Notify(ctx, n)
			return nil
		})
	}
	_ = g.Wait()

	var errs error
	for _, del := range result.Deliveries {
		if del.Err == nil {
			metrics.NotificationsTotal.WithLabelValues(del.Audience.Kind(), "sent").Inc()
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(del.Audience.Kind(), "failed").Inc()
		d.logger.Error("Notification delivery failed",
			zap.String("alert_id", alert.ID),
			zap.String("audience", del.Audience.String()),
			zap.Error(del.Err),
		)
		_ = d.audit.LogNotificationFailed(ctx, alert.ID, del.Audience.String(), del.Err)
		errs = multierr.Append(errs, fmt.Errorf("notify %s: %w", del.Audience, del.Err))
	}
	return result, errs
}

func (d *Dispatcher) ruleSetVersion(subj Subject) string {
	if subj.RuleSetVersion != "" {
		return subj.RuleSetVersion
	}
	return d.config.RuleSetVersion
}

func (d *Dispatcher) persist(ctx context.Context, subj Subject, decision models.RiskDecision) (*models.Alert, bool, error) {
	top, _ := decision.TopFinding()

	details, err := json.Marshal(map[string]interface{}{
		"event_id":     subj.EventID,
		"subject_type": subj.SubjectType,
		"score":        decision.Score,
		"action":       decision.Action,
		"findings":     decision.Findings,
	})
	if err != nil {
		return nil, false, fmt.Errorf("encode alert details: %w", err)
	}

	rec := &db.AlertRecord{
		IdempotencyKey: IdempotencyKey(subj.UserID, subj.EventID, d.ruleSetVersion(subj)),
		UserID:         subj.UserID,
		SubjectID:      subj.SubjectID,
		Source:         subj.Source,
		AlertType:      top.Kind,
		Severity:       string(top.Severity),
		Message:        strings.Join(decision.Reasons(), "; "),
		Details:        string(details),
		AutoBlocked:    decision.Action == models.ActionBlock,
	}
	stored, created, err := d.alerts.InsertAlert(ctx, rec)
	if err != nil {
		return nil, false, fmt.Errorf("persist alert: %w", err)
	}
	return stored.ToModel(), created, nil
}

func (d *Dispatcher) audiences(subj Subject) []notify.Audience {
	var out []notify.Audience
	switch subj.Source {
	case models.SourceContent:
		for _, role := range d.config.ContentRoles {
			out = append(out, notify.ForRole(role))
		}
	case models.SourceSecurity:
		for _, role := range d.config.SecurityRoles {
			out = append(out, notify.ForRole(role))
		}
		if d.config.NotifyUser && subj.UserID != "" {
			out = append(out, notify.ForUser(subj.UserID))
		}
	}
	return out
}

func (d *Dispatcher) compose(subj Subject, decision models.RiskDecision) notify.Notification {
	verb := "flagged"
	if decision.Action == models.ActionBlock {
		verb = "blocked"
	}
	reasons := strings.Join(decision.Reasons(), "; ")

	n := notify.Notification{ActionURL: d.config.BaseURL + subj.ActionURL}
	if subj.Source == models.SourceSecurity {
		n.Type = "security_alert"
		n.Title = "Suspicious login " + verb
		n.Message = fmt.Sprintf("Login for user %s was %s: %s", subj.UserID, verb, reasons)
		return n
	}
	n.Type = "moderation"
	n.Title = "Content " + verb + " for review"
	n.Message = fmt.Sprintf("%s was %s: %s", subj.Label, verb, reasons)
	return n
}
