package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const alertColumns = `id, idempotency_key, user_id, subject_id, source, alert_type, severity, message, details, auto_blocked, status, created_at`

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

// ─── Login history ────────────────────────────────────────────────────────────

func (s *sqlStore) RecordLogin(ctx context.Context, rec *LoginRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = now()
	}
	return instrument("record_login", func() error {
		_, err := s.db.ExecContext(ctx, s.db.Rebind(`
            INSERT INTO login_events(id, user_id, occurred_at, ip_address, user_agent, location)
            VALUES(?,?,?,?,?,?)
        `), rec.ID, rec.UserID, rec.OccurredAt.UTC(), rec.IPAddress, rec.UserAgent, rec.Location)
		if err != nil {
			return fmt.Errorf("insert login event: %w", err)
		}
		return nil
	})
}

func (s *sqlStore) ListLogins(ctx context.Context, userID string, from, to time.Time) ([]*LoginRecord, error) {
	var out []*LoginRecord
	err := instrument("list_logins", func() error {
		return s.db.SelectContext(ctx, &out, s.db.Rebind(`
            SELECT id, user_id, occurred_at, ip_address, user_agent, location
            FROM login_events
            WHERE user_id = ? AND occurred_at >= ? AND occurred_at < ?
            ORDER BY occurred_at ASC
        `), userID, from.UTC(), to.UTC())
	})
	if err != nil {
		return nil, fmt.Errorf("list logins: %w", err)
	}
	return out, nil
}

// ─── Alerts ───────────────────────────────────────────────────────────────────

func (s *sqlStore) InsertAlert(ctx context.Context, rec *AlertRecord) (*AlertRecord, bool, error) {
	if rec.IdempotencyKey == "" {
		return nil, false, errors.New("insert alert: idempotency key is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now()
	}
	if rec.Status == "" {
		rec.Status = "open"
	}
	if rec.Details == "" {
		rec.Details = "{}"
	}

	var created bool
	err := instrument("insert_alert", func() error {
		res, err := s.db.ExecContext(ctx, s.db.Rebind(`
            INSERT INTO security_alerts(`+alertColumns+`)
            VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
            ON CONFLICT(idempotency_key) DO NOTHING
        `),
			rec.ID, rec.IdempotencyKey, rec.UserID, rec.SubjectID, rec.Source,
			rec.AlertType, rec.Severity, rec.Message, rec.Details,
			rec.AutoBlocked, rec.Status, rec.CreatedAt.UTC(),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n == 1
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("insert alert: %w", err)
	}
	if created {
		return rec, true, nil
	}

	var existing AlertRecord
	err = s.db.GetContext(ctx, &existing, s.db.Rebind(`SELECT `+alertColumns+` FROM security_alerts WHERE idempotency_key = ?`), rec.IdempotencyKey)
	if err != nil {
		return nil, false, fmt.Errorf("load existing alert: %w", err)
	}
	return &existing, false, nil
}

func (s *sqlStore) GetAlert(ctx context.Context, id string) (*AlertRecord, error) {
	var rec AlertRecord
	err := instrument("get_alert", func() error {
		return s.db.GetContext(ctx, &rec, s.db.Rebind(`SELECT `+alertColumns+` FROM security_alerts WHERE id = ?`), id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return &rec, nil
}

func (s *sqlStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]*AlertRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Source != "" {
		where = append(where, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAlertLimit
	}
	if limit > maxAlertLimit {
		limit = maxAlertLimit
	}

	query := `SELECT ` + alertColumns + ` FROM security_alerts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	var out []*AlertRecord
	err := instrument("list_alerts", func() error {
		return s.db.SelectContext(ctx, &out, s.db.Rebind(query), args...)
	})
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return out, nil
}
