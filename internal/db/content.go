package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const postColumns = `id, author_id, title, content, is_flagged, flag_reasons, is_hidden, is_pinned, is_locked, created_at, updated_at`

const replyColumns = `id, post_id, author_id, content, is_flagged, flag_reasons, is_hidden, created_at, updated_at`

var postFields = map[SubjectField]bool{
	FieldFlagged: true,
	FieldHidden:  true,
	FieldPinned:  true,
	FieldLocked:  true,
}

var replyFields = map[SubjectField]bool{
	FieldFlagged: true,
	FieldHidden:  true,
}

// ─── Posts ────────────────────────────────────────────────────────────────────

func (s *sqlStore) SavePost(ctx context.Context, rec *PostRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	if rec.FlagReasons == "" {
		rec.FlagReasons = "[]"
	}
	return instrument("save_post", func() error {
		_, err := s.db.ExecContext(ctx, s.db.Rebind(`
            INSERT INTO forum_posts(`+postColumns+`)
            VALUES(?,?,?,?,?,?,?,?,?,?,?)
            ON CONFLICT(id) DO UPDATE SET
                title      = excluded.title,
                content    = excluded.content,
                updated_at = excluded.updated_at
        `),
			rec.ID, rec.AuthorID, rec.Title, rec.Content,
			rec.IsFlagged, rec.FlagReasons, rec.IsHidden, rec.IsPinned, rec.IsLocked,
			rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("upsert post: %w", err)
		}
		return nil
	})
}

func (s *sqlStore) GetPost(ctx context.Context, id string) (*PostRecord, error) {
	var rec PostRecord
	err := instrument("get_post", func() error {
		return s.db.GetContext(ctx, &rec, s.db.Rebind(`SELECT `+postColumns+` FROM forum_posts WHERE id = ?`), id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}
	return &rec, nil
}

func (s *sqlStore) FlagPost(ctx context.Context, id string, reasons []string) error {
	raw, err := encodeReasons(reasons)
	if err != nil {
		return err
	}
	err = instrument("flag_post", func() error {
		return s.execOne(ctx, `UPDATE forum_posts SET is_flagged = ?, flag_reasons = ?, updated_at = ? WHERE id = ?`,
			true, raw, now(), id)
	})
	return wrapSubjectErr("flag post", id, err)
}

func (s *sqlStore) SetPostField(ctx context.Context, id string, field SubjectField, value bool) error {
	if !postFields[field] {
		return fmt.Errorf("field %q cannot be set on a post", field)
	}
	err := instrument("set_post_field", func() error {
		return s.execOne(ctx, fmt.Sprintf(`UPDATE forum_posts SET %s = ?, updated_at = ? WHERE id = ?`, field),
			value, now(), id)
	})
	return wrapSubjectErr("update post", id, err)
}

// ─── Replies ──────────────────────────────────────────────────────────────────

func (s *sqlStore) SaveReply(ctx context.Context, rec *ReplyRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	if rec.FlagReasons == "" {
		rec.FlagReasons = "[]"
	}
	return instrument("save_reply", func() error {
		_, err := s.db.ExecContext(ctx, s.db.Rebind(`
            INSERT INTO forum_replies(`+replyColumns+`)
            VALUES(?,?,?,?,?,?,?,?,?)
            ON CONFLICT(id) DO UPDATE SET
                content    = excluded.content,
                updated_at = excluded.updated_at
        `),
			rec.ID, rec.PostID, rec.AuthorID, rec.Content,
			rec.IsFlagged, rec.FlagReasons, rec.IsHidden,
			rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("upsert reply: %w", err)
		}
		return nil
	})
}

func (s *sqlStore) GetReply(ctx context.Context, id string) (*ReplyRecord, error) {
	var rec ReplyRecord
	err := instrument("get_reply", func() error {
		return s.db.GetContext(ctx, &rec, s.db.Rebind(`SELECT `+replyColumns+` FROM forum_replies WHERE id = ?`), id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reply %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get reply: %w", err)
	}
	return &rec, nil
}

func (s *sqlStore) FlagReply(ctx context.Context, id string, reasons []string) error {
	raw, err := encodeReasons(reasons)
	if err != nil {
		return err
	}
	err = instrument("flag_reply", func() error {
		return s.execOne(ctx, `UPDATE forum_replies SET is_flagged = ?, flag_reasons = ?, updated_at = ? WHERE id = ?`,
			true, raw, now(), id)
	})
	return wrapSubjectErr("flag reply", id, err)
}

func (s *sqlStore) SetReplyField(ctx context.Context, id string, field SubjectField, value bool) error {
	if !replyFields[field] {
		return fmt.Errorf("field %q cannot be set on a reply", field)
	}
	err := instrument("set_reply_field", func() error {
		return s.execOne(ctx, fmt.Sprintf(`UPDATE forum_replies SET %s = ?, updated_at = ? WHERE id = ?`, field),
			value, now(), id)
	})
	return wrapSubjectErr("update reply", id, err)
}

// ─── Moderation actions ───────────────────────────────────────────────────────

func (s *sqlStore) AppendModerationAction(ctx context.Context, rec *ModerationActionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now()
	}
	return instrument("append_moderation_action", func() error {
		_, err := s.db.ExecContext(ctx, s.db.Rebind(`
            INSERT INTO moderation_actions(id, subject_id, subject_type, moderator_id, action, reason, created_at)
            VALUES(?,?,?,?,?,?,?)
        `), rec.ID, rec.SubjectID, rec.SubjectType, rec.ModeratorID, rec.Action, rec.Reason, rec.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert moderation action: %w", err)
		}
		return nil
	})
}

func (s *sqlStore) ListModerationActions(ctx context.Context, subjectID string) ([]*ModerationActionRecord, error) {
	var out []*ModerationActionRecord
	err := instrument("list_moderation_actions", func() error {
		return s.db.SelectContext(ctx, &out, s.db.Rebind(`
            SELECT id, subject_id, subject_type, moderator_id, action, reason, created_at
            FROM moderation_actions WHERE subject_id = ? ORDER BY created_at ASC
        `), subjectID)
	})
	if err != nil {
		return nil, fmt.Errorf("list moderation actions: %w", err)
	}
	return out, nil
}

func encodeReasons(reasons []string) (string, error) {
	if reasons == nil {
		reasons = []string{}
	}
	b, err := json.Marshal(reasons)
	if err != nil {
		return "", fmt.Errorf("encode flag reasons: %w", err)
	}
	return string(b), nil
}

func wrapSubjectErr(op, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s %s: %w", op, id, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
