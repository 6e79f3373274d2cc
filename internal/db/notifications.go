package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ─── Profiles ─────────────────────────────────────────────────────────────────

func (s *sqlStore) SaveProfile(ctx context.Context, rec *ProfileRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Role == "" {
		rec.Role = "member"
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now()
	}
	return instrument("save_profile", func() error {
		_, err := s.db.ExecContext(ctx, s.db.Rebind(`
            INSERT INTO profiles(id, display_name, role, created_at)
            VALUES(?,?,?,?)
            ON CONFLICT(id) DO UPDATE SET
                display_name = excluded.display_name,
                role         = excluded.role
        `), rec.ID, rec.DisplayName, rec.Role, rec.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("upsert profile: %w", err)
		}
		return nil
	})
}

func (s *sqlStore) GetProfile(ctx context.Context, id string) (*ProfileRecord, error) {
	var rec ProfileRecord
	err := instrument("get_profile", func() error {
		return s.db.GetContext(ctx, &rec, s.db.Rebind(`SELECT id, display_name, role, created_at FROM profiles WHERE id = ?`), id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &rec, nil
}

func (s *sqlStore) ListProfileIDsByRole(ctx context.Context, role string) ([]string, error) {
	var ids []string
	err := instrument("list_profiles_by_role", func() error {
		return s.db.SelectContext(ctx, &ids, s.db.Rebind(`SELECT id FROM profiles WHERE role = ? ORDER BY id`), role)
	})
	if err != nil {
		return nil, fmt.Errorf("list profiles by role: %w", err)
	}
	return ids, nil
}

// ─── Notifications ────────────────────────────────────────────────────────────

func (s *sqlStore) InsertNotifications(ctx context.Context, recs []*NotificationRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return instrument("insert_notifications", func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		query := tx.Rebind(`
            INSERT INTO notifications(id, user_id, type, title, message, action_url, is_read, created_at)
            VALUES(?,?,?,?,?,?,?,?)
        `)
		for _, rec := range recs {
			if rec.ID == "" {
				rec.ID = uuid.New().String()
			}
			if rec.CreatedAt.IsZero() {
				rec.CreatedAt = now()
			}
			if _, err := tx.ExecContext(ctx, query,
				rec.ID, rec.UserID, rec.Type, rec.Title, rec.Message, rec.ActionURL, rec.IsRead, rec.CreatedAt.UTC(),
			); err != nil {
				return fmt.Errorf("insert notification for %s: %w", rec.UserID, err)
			}
		}
		return tx.Commit()
	})
}

func (s *sqlStore) ListNotifications(ctx context.Context, userID string, limit int) ([]*NotificationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*NotificationRecord
	err := instrument("list_notifications", func() error {
		return s.db.SelectContext(ctx, &out, s.db.Rebind(`
            SELECT id, user_id, type, title, message, action_url, is_read, created_at
            FROM notifications WHERE user_id = ?
            ORDER BY created_at DESC LIMIT ?
        `), userID, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}
