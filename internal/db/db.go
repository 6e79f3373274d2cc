package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/usfnet/sentinel/internal/models"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence interface for sentinel.
type Store interface {
	ContentStore
	ProfileStore
	LoginStore
	AlertStore
	NotificationStore
	ModerationStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Content store ────────────────────────────────────────────────────────────

// PostRecord is a forum post.
type PostRecord struct {
	ID          string    `db:"id" json:"id"`
	AuthorID    string    `db:"author_id" json:"author_id"`
	Title       string    `db:"title" json:"title"`
	Content     string    `db:"content" json:"content"`
	IsFlagged   bool      `db:"is_flagged" json:"is_flagged"`
	FlagReasons string    `db:"flag_reasons" json:"-"` // JSON array
	IsHidden    bool      `db:"is_hidden" json:"is_hidden"`
	IsPinned    bool      `db:"is_pinned" json:"is_pinned"`
	IsLocked    bool      `db:"is_locked" json:"is_locked"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Reasons decodes FlagReasons.
func (p *PostRecord) Reasons() []string { return decodeReasons(p.FlagReasons) }

// ReplyRecord is a reply to a forum post.
type ReplyRecord struct {
	ID          string    `db:"id" json:"id"`
	PostID      string    `db:"post_id" json:"post_id"`
	AuthorID    string    `db:"author_id" json:"author_id"`
	Content     string    `db:"content" json:"content"`
	IsFlagged   bool      `db:"is_flagged" json:"is_flagged"`
	FlagReasons string    `db:"flag_reasons" json:"-"`
	IsHidden    bool      `db:"is_hidden" json:"is_hidden"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Reasons decodes FlagReasons.
func (r *ReplyRecord) Reasons() []string { return decodeReasons(r.FlagReasons) }

// SubjectField names a boolean moderation column.
type SubjectField string

const (
	FieldFlagged SubjectField = "is_flagged"
	FieldHidden  SubjectField = "is_hidden"
	FieldPinned  SubjectField = "is_pinned"
	FieldLocked  SubjectField = "is_locked"
)

// ContentStore persists posts and replies and their moderation state.
type ContentStore interface {
	SavePost(ctx context.Context, rec *PostRecord) error
	GetPost(ctx context.Context, id string) (*PostRecord, error)
	SaveReply(ctx context.Context, rec *ReplyRecord) error
	GetReply(ctx context.Context, id string) (*ReplyRecord, error)

	// FlagPost sets is_flagged and records the reasons.
	FlagPost(ctx context.Context, id string, reasons []string) error
	// FlagReply sets is_flagged and records the reasons.
	FlagReply(ctx context.Context, id string, reasons []string) error

	// SetPostField updates exactly one moderation column of a post.
	SetPostField(ctx context.Context, id string, field SubjectField, value bool) error
	// SetReplyField updates is_flagged or is_hidden of a reply.
	SetReplyField(ctx context.Context, id string, field SubjectField, value bool) error
}

// ─── Profile store ────────────────────────────────────────────────────────────

// ProfileRecord is a platform user.
type ProfileRecord struct {
	ID          string    `db:"id" json:"id"`
	DisplayName string    `db:"display_name" json:"display_name"`
	Role        string    `db:"role" json:"role"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ProfileStore resolves users and roles.
type ProfileStore interface {
	SaveProfile(ctx context.Context, rec *ProfileRecord) error
	GetProfile(ctx context.Context, id string) (*ProfileRecord, error)
	// ListProfileIDsByRole returns the ids of every profile holding role.
	ListProfileIDsByRole(ctx context.Context, role string) ([]string, error)
}

// ─── Login store ──────────────────────────────────────────────────────────────

// LoginRecord is one recorded authentication attempt.
type LoginRecord struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"user_id"`
	OccurredAt time.Time `db:"occurred_at" json:"timestamp"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	Location   string    `db:"location" json:"location"`
}

// LoginStore persists login history.
type LoginStore interface {
	RecordLogin(ctx context.Context, rec *LoginRecord) error
	// ListLogins returns the user's logins with from <= occurred_at < to,
	// oldest first.
	ListLogins(ctx context.Context, userID string, from, to time.Time) ([]*LoginRecord, error)
}

// ─── Alert store ──────────────────────────────────────────────────────────────

// AlertRecord is a persisted security or content alert.
type AlertRecord struct {
	ID             string    `db:"id" json:"id"`
	IdempotencyKey string    `db:"idempotency_key" json:"-"`
	UserID         string    `db:"user_id" json:"user_id"`
	SubjectID      string    `db:"subject_id" json:"subject_id"`
	Source         string    `db:"source" json:"source"`
	AlertType      string    `db:"alert_type" json:"alert_type"`
	Severity       string    `db:"severity" json:"severity"`
	Message        string    `db:"message" json:"message"`
	Details        string    `db:"details" json:"-"` // JSON object
	AutoBlocked    bool      `db:"auto_blocked" json:"auto_blocked"`
	Status         string    `db:"status" json:"status"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// ToModel decodes the record into the domain alert.
func (r *AlertRecord) ToModel() *models.Alert {
	a := &models.Alert{
		ID:             r.ID,
		IdempotencyKey: r.IdempotencyKey,
		UserID:         r.UserID,
		SubjectID:      r.SubjectID,
		Source:         r.Source,
		Type:           r.AlertType,
		Severity:       models.Severity(r.Severity),
		Message:        r.Message,
		AutoBlocked:    r.AutoBlocked,
		Status:         r.Status,
		CreatedAt:      r.CreatedAt,
	}
	if r.Details != "" {
		_ = json.Unmarshal([]byte(r.Details), &a.Details)
	}
	return a
}

// AlertFilter narrows ListAlerts. Empty fields match everything.
type AlertFilter struct {
	UserID string
	Source string
	Status string
	Limit  int
}

// AlertStore persists alerts.
type AlertStore interface {
	// InsertAlert writes rec unless an alert with the same idempotency key
	// exists. It returns the stored alert and whether it was newly created.
	InsertAlert(ctx context.Context, rec *AlertRecord) (*AlertRecord, bool, error)
	GetAlert(ctx context.Context, id string) (*AlertRecord, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*AlertRecord, error)
}

// ─── Notification store ───────────────────────────────────────────────────────

// NotificationRecord is one in-app notification for one user.
type NotificationRecord struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Type      string    `db:"type" json:"type"`
	Title     string    `db:"title" json:"title"`
	Message   string    `db:"message" json:"message"`
	ActionURL string    `db:"action_url" json:"action_url,omitempty"`
	IsRead    bool      `db:"is_read" json:"is_read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// NotificationStore persists notifications.
type NotificationStore interface {
	// InsertNotifications writes all records in one transaction.
	InsertNotifications(ctx context.Context, recs []*NotificationRecord) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]*NotificationRecord, error)
}

// ─── Moderation store ─────────────────────────────────────────────────────────

// ModerationActionRecord logs a manual moderator decision.
type ModerationActionRecord struct {
	ID          string    `db:"id" json:"id"`
	SubjectID   string    `db:"subject_id" json:"subject_id"`
	SubjectType string    `db:"subject_type" json:"subject_type"` // post | reply
	ModeratorID string    `db:"moderator_id" json:"moderator_id"`
	Action      string    `db:"action" json:"action"`
	Reason      string    `db:"reason" json:"reason"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ModerationStore persists the moderator action log.
type ModerationStore interface {
	AppendModerationAction(ctx context.Context, rec *ModerationActionRecord) error
	ListModerationActions(ctx context.Context, subjectID string) ([]*ModerationActionRecord, error)
}

func decodeReasons(raw string) []string {
	var out []string
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}
