package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err, "NewSQLiteStore")
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_UnknownType(t *testing.T) {
	_, err := Open("oracle", "whatever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}

func TestMigrationsAreIdempotent(t *testing.T) {
	s := newTestStore(t).(*sqlStore)
	require.NoError(t, s.migrate())

	var count int
	require.NoError(t, s.db.Get(&count, `SELECT COUNT(*) FROM schema_versions`))
	assert.Equal(t, len(migrations), count)
}

// ─── Posts & replies ──────────────────────────────────────────────────────────

func TestPostLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &PostRecord{ID: "p1", AuthorID: "u1", Title: "Hello", Content: "First post"}
	require.NoError(t, s.SavePost(ctx, rec))

	got, err := s.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Hello", got.Title)
	assert.False(t, got.IsFlagged)
	assert.Empty(t, got.Reasons())
	assert.False(t, got.CreatedAt.IsZero())

	require.NoError(t, s.FlagPost(ctx, "p1", []string{"Excessive use of capital letters", "Repetitive content detected"}))
	got, err = s.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, got.IsFlagged)
	assert.Equal(t, []string{"Excessive use of capital letters", "Repetitive content detected"}, got.Reasons())

	require.NoError(t, s.SetPostField(ctx, "p1", FieldPinned, true))
	got, err = s.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, got.IsPinned)
	assert.True(t, got.IsFlagged, "pinning must not touch is_flagged")
	assert.False(t, got.IsLocked)
	assert.False(t, got.IsHidden)

	require.NoError(t, s.SetPostField(ctx, "p1", FieldFlagged, false))
	got, err = s.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, got.IsFlagged)
	assert.True(t, got.IsPinned)
}

func TestPostNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetPost(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	err = s.FlagPost(ctx, "missing", []string{"x"})
	assert.True(t, errors.Is(err, ErrNotFound))

	err = s.SetPostField(ctx, "missing", FieldHidden, true)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReplyFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveReply(ctx, &ReplyRecord{ID: "r1", PostID: "p1", AuthorID: "u2", Content: "reply"}))

	require.NoError(t, s.FlagReply(ctx, "r1", []string{"Repetitive content detected"}))
	require.NoError(t, s.SetReplyField(ctx, "r1", FieldHidden, true))

	got, err := s.GetReply(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, got.IsFlagged)
	assert.True(t, got.IsHidden)
	assert.Equal(t, []string{"Repetitive content detected"}, got.Reasons())

	err = s.SetReplyField(ctx, "r1", FieldPinned, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be set on a reply")

	_, err = s.GetReply(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestModerationActions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.AppendModerationAction(ctx, &ModerationActionRecord{
		SubjectID: "p1", SubjectType: "post", ModeratorID: "mod-1", Action: "pin", Reason: "useful", CreatedAt: base,
	}))
	require.NoError(t, s.AppendModerationAction(ctx, &ModerationActionRecord{
		SubjectID: "p1", SubjectType: "post", ModeratorID: "mod-2", Action: "lock", CreatedAt: base.Add(time.Minute),
	}))

	actions, err := s.ListModerationActions(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, "pin", actions[0].Action)
	assert.Equal(t, "lock", actions[1].Action)
	assert.NotEmpty(t, actions[0].ID)
}

// ─── Logins ───────────────────────────────────────────────────────────────────

func TestListLoginsWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, at := range []time.Time{
		now.Add(-40 * 24 * time.Hour), // outside lookback
		now.Add(-2 * time.Hour),
		now.Add(-10 * time.Minute),
		now,                      // the current event itself
		now.Add(5 * time.Minute), // later event
	} {
		require.NoError(t, s.RecordLogin(ctx, &LoginRecord{UserID: "u1", OccurredAt: at, Location: "Paris"}))
	}
	require.NoError(t, s.RecordLogin(ctx, &LoginRecord{UserID: "u2", OccurredAt: now.Add(-time.Hour)}))

	got, err := s.ListLogins(ctx, "u1", now.Add(-30*24*time.Hour), now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].OccurredAt.Equal(now.Add(-2*time.Hour)), "oldest first, got %s", got[0].OccurredAt)
	assert.True(t, got[1].OccurredAt.Equal(now.Add(-10*time.Minute)))
	assert.Equal(t, "Paris", got[1].Location)
}

// ─── Alerts ───────────────────────────────────────────────────────────────────

func TestInsertAlertIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &AlertRecord{
		IdempotencyKey: "key-1", UserID: "u1", SubjectID: "p1", Source: "content",
		AlertType: "excessive_caps", Severity: "medium", Message: "flagged", Details: `{"score":6}`,
	}
	stored, created, err := s.InsertAlert(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, "open", stored.Status)

	dup := &AlertRecord{
		IdempotencyKey: "key-1", UserID: "u1", SubjectID: "p1", Source: "content",
		AlertType: "excessive_caps", Severity: "medium", Message: "second try",
	}
	again, created, err := s.InsertAlert(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stored.ID, again.ID)
	assert.Equal(t, "flagged", again.Message, "the original alert is returned")

	all, err := s.ListAlerts(ctx, AlertFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestInsertAlertRequiresKey(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.InsertAlert(context.Background(), &AlertRecord{UserID: "u1"})
	assert.Error(t, err)
}

func TestListAlertsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, a := range []AlertRecord{
		{IdempotencyKey: "a", UserID: "u1", Source: "content", AlertType: "forbidden_term", Severity: "medium"},
		{IdempotencyKey: "b", UserID: "u1", Source: "security", AlertType: "impossible_travel", Severity: "high", AutoBlocked: true},
		{IdempotencyKey: "c", UserID: "u2", Source: "security", AlertType: "device_change", Severity: "medium"},
	} {
		a := a
		a.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		_, _, err := s.InsertAlert(ctx, &a)
		require.NoError(t, err)
	}

	security, err := s.ListAlerts(ctx, AlertFilter{Source: "security"})
	require.NoError(t, err)
	require.Len(t, security, 2)
	assert.Equal(t, "u2", security[0].UserID, "newest first")

	u1Security, err := s.ListAlerts(ctx, AlertFilter{UserID: "u1", Source: "security"})
	require.NoError(t, err)
	require.Len(t, u1Security, 1)
	assert.True(t, u1Security[0].AutoBlocked)

	limited, err := s.ListAlerts(ctx, AlertFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	got, err := s.GetAlert(ctx, u1Security[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "impossible_travel", got.AlertType)

	_, err = s.GetAlert(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

// ─── Profiles & notifications ─────────────────────────────────────────────────

func TestProfilesByRole(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveProfile(ctx, &ProfileRecord{ID: "m2", DisplayName: "Mod Two", Role: "moderator"}))
	require.NoError(t, s.SaveProfile(ctx, &ProfileRecord{ID: "m1", DisplayName: "Mod One", Role: "moderator"}))
	require.NoError(t, s.SaveProfile(ctx, &ProfileRecord{ID: "u1", DisplayName: "Member"}))

	ids, err := s.ListProfileIDsByRole(ctx, "moderator")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, ids)

	p, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "member", p.Role)

	ids, err = s.ListProfileIDsByRole(ctx, "admin")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestNotifications(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recs := []*NotificationRecord{
		{UserID: "m1", Type: "moderation", Title: "Content flagged", Message: "Post p1 was flagged", ActionURL: "/forum/posts/p1"},
		{UserID: "m2", Type: "moderation", Title: "Content flagged", Message: "Post p1 was flagged"},
	}
	require.NoError(t, s.InsertNotifications(ctx, recs))
	require.NoError(t, s.InsertNotifications(ctx, nil))

	got, err := s.ListNotifications(ctx, "m1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "/forum/posts/p1", got[0].ActionURL)
	assert.False(t, got[0].IsRead)
	assert.NotEmpty(t, recs[1].ID)
}
