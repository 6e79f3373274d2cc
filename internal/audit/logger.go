package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/usfnet/sentinel/internal/models"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// LogContentDecision records a flag or block decision on a post or reply
	LogContentDecision(ctx context.Context, subjectType, subjectID, authorID string, decision models.RiskDecision) error

	// LogLoginDecision records a flag or block decision on a login attempt
	LogLoginDecision(ctx context.Context, userID, ipAddress string, decision models.RiskDecision) error

	// LogAlert records a persisted (or deduplicated) alert
	LogAlert(ctx context.Context, alertID, userID, source string, deduplicated bool) error

	// LogNotificationFailed records a failed audience delivery
	LogNotificationFailed(ctx context.Context, alertID, audience string, err error) error

	// LogModerationOverride records a manual moderator action
	LogModerationOverride(ctx context.Context, subjectID, moderatorID, action, reason string) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// BufferSize is the number of events held before a forced flush
	BufferSize int

	// FlushInterval is how often buffered events are written
	FlushInterval time.Duration
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath:  "logs/audit.log",
		MaxSize:       100, // megabytes
		MaxBackups:    10,
		MaxAge:        30, // days
		Compress:      true,
		BufferSize:    100,
		FlushInterval: time.Second,
	}
}

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	rotator     *lumberjack.Logger
	config      *Config
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
}

// NewLogger creates a new audit logger. Write failures are reported on app.
func NewLogger(config *Config, app *zap.Logger) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.AuditLogPath == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = time.Second
	}
	if app == nil {
		app = zap.NewNop()
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	// Audit log with rotation (always INFO level, append-only)
	rotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel,
	)

	logger := &auditLogger{
		appLogger:   app.Named("audit"),
		auditLogger: zap.New(auditCore),
		rotator:     rotator,
		config:      config,
		buffer:      make([]*Event, 0, config.BufferSize),
		flushTicker: time.NewTicker(config.FlushInterval),
		stopCh:      make(chan struct{}),
	}

	go logger.autoFlush()

	return logger, nil
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	if event.CorrelationID == "" {
		event.CorrelationID = GetCorrelationID(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)

	if len(l.buffer) >= l.config.BufferSize {
		return l.flushLocked()
	}

	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	l.buffer = l.buffer[:0]

	return nil
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// LogContentDecision logs a flagged or blocked post or reply
func (l *auditLogger) LogContentDecision(ctx context.Context, subjectType, subjectID, authorID string, decision models.RiskDecision) error {
	eventType, result := EventContentFlagged, ResultFlagged
	if decision.Action == models.ActionBlock {
		eventType, result = EventContentBlocked, ResultBlocked
	}
	event := NewEvent(eventType).
		WithUser(authorID).
		WithResource(subjectID, subjectType).
		WithResult(result).
		WithMetadata("score", decision.Score).
		WithMetadata("findings", decision.Kinds()).
		WithDescription(fmt.Sprintf("%s %s %s: %s", subjectType, subjectID, decision.Action, strings.Join(decision.Reasons(), "; ")))

	return l.Log(ctx, event)
}

// LogLoginDecision logs a flagged or blocked login attempt
func (l *auditLogger) LogLoginDecision(ctx context.Context, userID, ipAddress string, decision models.RiskDecision) error {
	eventType, result := EventLoginFlagged, ResultFlagged
	if decision.Action == models.ActionBlock {
		eventType, result = EventLoginBlocked, ResultBlocked
	}
	event := NewEvent(eventType).
		WithUser(userID).
		WithSourceIP(ipAddress).
		WithResource(userID, "login").
		WithResult(result).
		WithMetadata("score", decision.Score).
		WithMetadata("findings", decision.Kinds()).
		WithDescription(fmt.Sprintf("Login for %s %s: %s", userID, decision.Action, strings.Join(decision.Reasons(), "; ")))

	return l.Log(ctx, event)
}

// LogAlert logs a persisted alert
func (l *auditLogger) LogAlert(ctx context.Context, alertID, userID, source string, deduplicated bool) error {
	eventType, desc := EventAlertCreated, "created"
	if deduplicated {
		eventType, desc = EventAlertDeduplicated, "already existed"
	}
	event := NewEvent(eventType).
		WithUser(userID).
		WithResource(alertID, "alert").
		WithMetadata("source", source).
		WithDescription(fmt.Sprintf("Alert %s %s", alertID, desc))

	return l.Log(ctx, event)
}

// LogNotificationFailed logs a failed audience delivery
func (l *auditLogger) LogNotificationFailed(ctx context.Context, alertID, audience string, err error) error {
	event := NewEvent(EventNotificationFailed).
		WithResource(alertID, "alert").
		WithMetadata("audience", audience).
		WithError(err, "notification_error").
		WithDescription(fmt.Sprintf("Notification for alert %s to %s failed", alertID, audience))

	return l.Log(ctx, event)
}

// LogModerationOverride logs a manual moderator action
func (l *auditLogger) LogModerationOverride(ctx context.Context, subjectID, moderatorID, action, reason string) error {
	event := NewEvent(EventModerationOverride).
		WithUser(moderatorID).
		WithResource(subjectID, "content").
		WithAction(action).
		WithMetadata("reason", reason).
		WithDescription(fmt.Sprintf("Moderator %s applied %s to %s", moderatorID, action, subjectID))

	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}

	return l.auditLogger.Sync()
}

// Close flushes and closes the audit logger. It is safe to call twice.
func (l *auditLogger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stopCh)
		l.flushTicker.Stop()

		if err = l.Sync(); err != nil {
			return
		}
		err = l.rotator.Close()
	})
	return err
}

type correlationKey struct{}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// GenerateCorrelationID generates a new correlation ID
func GenerateCorrelationID() string {
	return uuid.New().String()
}

// nopLogger discards every event.
type nopLogger struct{}

// NewNopLogger returns a Logger that records nothing.
func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) Log(context.Context, *Event) error { return nil }
func (nopLogger) LogContentDecision(context.Context, string, string, string, models.RiskDecision) error {
	return nil
}
func (nopLogger) LogLoginDecision(context.Context, string, string, models.RiskDecision) error {
	return nil
}
func (nopLogger) LogAlert(context.Context, string, string, string, bool) error      { return nil }
func (nopLogger) LogNotificationFailed(context.Context, string, string, error) error { return nil }
func (nopLogger) LogModerationOverride(context.Context, string, string, string, string) error {
	return nil
}
func (nopLogger) Sync() error  { return nil }
func (nopLogger) Close() error { return nil }
