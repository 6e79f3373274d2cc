package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usfnet/sentinel/internal/models"
)

func newTestLogger(t *testing.T) (Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	cfg := DefaultConfig()
	cfg.AuditLogPath = path
	cfg.Compress = false

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })
	return logger, path
}

func readLog(t *testing.T, logger Logger, path string) string {
	t.Helper()
	require.NoError(t, logger.Sync())
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(content)
}

func TestNewLogger(t *testing.T) {
	_, err := NewLogger(&Config{}, nil)
	assert.Error(t, err, "empty audit log path must be rejected")

	logger, _ := newTestLogger(t)
	assert.NotNil(t, logger)
}

func TestLogEvent(t *testing.T) {
	logger, path := newTestLogger(t)

	event := NewEvent(EventConfigLoaded).
		WithCorrelationID("test-123").
		WithUser("system").
		WithDescription("configuration loaded")
	require.NoError(t, logger.Log(context.Background(), event))

	content := readLog(t, logger, path)
	assert.Contains(t, content, "test-123")
	assert.Contains(t, content, "config.loaded")
	assert.Contains(t, content, "system")
}

func TestLogTakesCorrelationIDFromContext(t *testing.T) {
	logger, path := newTestLogger(t)

	ctx := WithCorrelationID(context.Background(), "req-42")
	require.NoError(t, logger.Log(ctx, NewEvent(EventServerStarted)))

	assert.Contains(t, readLog(t, logger, path), "req-42")
}

func TestLogContentDecision(t *testing.T) {
	logger, path := newTestLogger(t)
	ctx := context.Background()

	flagged := models.RiskDecision{
		Score:  1,
		Action: models.ActionFlag,
		Findings: []models.Finding{
			{Kind: "excessive_caps", Severity: models.SeverityMedium, Message: "Excessive use of capital letters"},
		},
	}
	require.NoError(t, logger.LogContentDecision(ctx, "post", "p1", "author-1", flagged))

	content := readLog(t, logger, path)
	assert.Contains(t, content, "content.flagged")
	assert.Contains(t, content, "p1")
	assert.Contains(t, content, "author-1")
	assert.Contains(t, content, "excessive_caps")
}

func TestLogLoginDecision(t *testing.T) {
	logger, path := newTestLogger(t)

	blocked := models.RiskDecision{
		Score:  10,
		Action: models.ActionBlock,
		Findings: []models.Finding{
			{Kind: "impossible_travel", Severity: models.SeverityHigh, Message: "Impossible travel detected", AutoBlock: true},
		},
	}
	require.NoError(t, logger.LogLoginDecision(context.Background(), "u1", "203.0.113.7", blocked))

	content := readLog(t, logger, path)
	assert.Contains(t, content, "login.blocked")
	assert.Contains(t, content, "203.0.113.7")
	assert.Contains(t, content, `\"result\":\"blocked\"`)
}

func TestLogAlertLifecycle(t *testing.T) {
	logger, path := newTestLogger(t)
	ctx := context.Background()

	require.NoError(t, logger.LogAlert(ctx, "alert-1", "u1", models.SourceSecurity, false))
	require.NoError(t, logger.LogAlert(ctx, "alert-1", "u1", models.SourceSecurity, true))
	require.NoError(t, logger.LogNotificationFailed(ctx, "alert-1", "role:moderator", errors.New("db down")))
	require.NoError(t, logger.LogModerationOverride(ctx, "p1", "mod-1", "hide", "spam"))

	content := readLog(t, logger, path)
	for _, want := range []string{
		"alert.created",
		"alert.deduplicated",
		"alert.notification_failed",
		"db down",
		"content.moderation_override",
		"mod-1",
	} {
		assert.Contains(t, content, want)
	}
}

func TestBufferAutoFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewLogger(&Config{AuditLogPath: path, FlushInterval: 50 * time.Millisecond}, nil)
	require.NoError(t, err)
	defer logger.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, logger.Log(context.Background(), NewEvent(EventConfigReload)))
	}

	assert.Eventually(t, func() bool {
		content, err := os.ReadFile(path)
		return err == nil && len(content) > 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestBufferFullFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewLogger(&Config{AuditLogPath: path, BufferSize: 10, FlushInterval: time.Hour}, nil)
	require.NoError(t, err)
	defer logger.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, logger.Log(context.Background(), NewEvent(EventConfigReload)))
	}

	// The tenth event fills the buffer; no Sync needed.
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	assert.Len(t, lines, 10)
}

func TestCloseIsIdempotent(t *testing.T) {
	logger, _ := newTestLogger(t)
	require.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
}

func TestCorrelationID(t *testing.T) {
	assert.NotEqual(t, GenerateCorrelationID(), GenerateCorrelationID())

	ctx := context.Background()
	assert.Empty(t, GetCorrelationID(ctx))

	ctx = WithCorrelationID(ctx, "test-correlation-id")
	assert.Equal(t, "test-correlation-id", GetCorrelationID(ctx))
}

func TestEventBuilderChain(t *testing.T) {
	event := NewEvent(EventLoginFlagged).
		WithCorrelationID("corr-123").
		WithUser("u1").
		WithSourceIP("198.51.100.1").
		WithResource("u1", "login").
		WithAction("analyze").
		WithResult(ResultFlagged).
		WithMetadata("score", 3)

	assert.Equal(t, "corr-123", event.CorrelationID)
	assert.Equal(t, "u1", event.User)
	assert.Equal(t, "198.51.100.1", event.SourceIP)
	assert.Equal(t, "login", event.ResourceType)
	assert.Equal(t, "analyze", event.Action)
	assert.Equal(t, ResultFlagged, event.Result)
	assert.Equal(t, 3, event.Metadata["score"])

	event.WithError(errors.New("boom"), "E1")
	assert.Equal(t, ResultFailure, event.Result)
	assert.Equal(t, "boom", event.Error)
}

func TestEventJSONSerialization(t *testing.T) {
	event := NewEvent(EventAlertCreated).WithCorrelationID("c-789").WithUser("system")

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "c-789", decoded.CorrelationID)
	assert.Equal(t, EventAlertCreated, decoded.EventType)
	assert.Equal(t, ResultSuccess, decoded.Result)
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	ctx := context.Background()
	assert.NoError(t, l.Log(ctx, NewEvent(EventServerStarted)))
	assert.NoError(t, l.LogAlert(ctx, "a", "u", "security", false))
	assert.NoError(t, l.Close())
}
