// Package notify delivers in-app notifications to a single user or to every
// holder of a role.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/usfnet/sentinel/internal/cache"
	"github.com/usfnet/sentinel/internal/db"
	"github.com/usfnet/sentinel/internal/metrics"
)

// Audience addresses a notification. Exactly one field is set.
type Audience struct {
	UserID     string `json:"user_id,omitempty"`
	RoleFilter string `json:"role_filter,omitempty"`
}

// ForUser addresses a single user.
func ForUser(id string) Audience { return Audience{UserID: id} }

// ForRole addresses every profile holding role.
func ForRole(role string) Audience { return Audience{RoleFilter: role} }

// Validate checks that exactly one addressing field is set.
func (a Audience) Validate() error {
	switch {
	case a.UserID != "" && a.RoleFilter != "":
		return errors.New("audience must set either user_id or role_filter, not both")
	case a.UserID == "" && a.RoleFilter == "":
		return errors.New("audience must set user_id or role_filter")
	}
	return nil
}

// Kind is "user" or "role".
func (a Audience) Kind() string {
	if a.UserID != "" {
		return "user"
	}
	return "role"
}

func (a Audience) String() string {
	if a.UserID != "" {
		return "user:" + a.UserID
	}
	return "role:" + a.RoleFilter
}

// Notification is one message for one audience.
type Notification struct {
	Type      string   `json:"type"`
	Title     string   `json:"title"`
	Message   string   `json:"message"`
	Audience  Audience `json:"audience"`
	ActionURL string   `json:"action_url,omitempty"`
}

// Notifier delivers a notification to its audience.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// RecipientStore is the subset of db.Store the store notifier needs.
type RecipientStore interface {
	ListProfileIDsByRole(ctx context.Context, role string) ([]string, error)
	InsertNotifications(ctx context.Context, recs []*db.NotificationRecord) error
}

// StoreNotifier writes one notification row per recipient. Role membership
// is cached for ttl.
type StoreNotifier struct {
	store  RecipientStore
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewStoreNotifier creates a store-backed notifier. A nil cache disables
// role caching.
func NewStoreNotifier(store RecipientStore, c cache.Cache, ttl time.Duration, logger *zap.Logger) *StoreNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreNotifier{store: store, cache: c, ttl: ttl, logger: logger}
}

// Notify resolves the audience and persists a notification for each
// recipient. A role with no members is not an error.
func (n *StoreNotifier) Notify(ctx context.Context, note Notification) error {
	if err := note.Audience.Validate(); err != nil {
		return err
	}

	recipients, err := n.recipients(ctx, note.Audience)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		n.logger.Debug("Notification has no recipients",
			zap.String("audience", note.Audience.String()),
			zap.String("type", note.Type),
		)
		return nil
	}

	recs := make([]*db.NotificationRecord, 0, len(recipients))
	for _, id := range recipients {
		recs = append(recs, &db.NotificationRecord{
			UserID:    id,
			Type:      note.Type,
			Title:     note.Title,
			Message:   note.Message,
			ActionURL: note.ActionURL,
		})
	}
	if err := n.store.InsertNotifications(ctx, recs); err != nil {
		return fmt.Errorf("store notifications for %s: %w", note.Audience, err)
	}
	return nil
}

func (n *StoreNotifier) recipients(ctx context.Context, a Audience) ([]string, error) {
	if a.UserID != "" {
		return []string{a.UserID}, nil
	}

	key := "role:" + a.RoleFilter
	if n.cache != nil {
		if v, ok, _ := n.cache.Get(ctx, key); ok {
			if ids, ok := v.([]string); ok {
				metrics.CacheLookups.WithLabelValues("hit").Inc()
				return ids, nil
			}
		}
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	ids, err := n.store.ListProfileIDsByRole(ctx, a.RoleFilter)
	if err != nil {
		return nil, fmt.Errorf("resolve role %q: %w", a.RoleFilter, err)
	}
	if n.cache != nil {
		_ = n.cache.Set(ctx, key, ids, n.ttl)
	}
	return ids, nil
}
