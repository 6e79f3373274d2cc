package db

// migrations are written in the SQL subset shared by SQLite and PostgreSQL.
// Version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS profiles (
    id           TEXT PRIMARY KEY,
    display_name TEXT NOT NULL DEFAULT '',
    role         TEXT NOT NULL DEFAULT 'member',
    created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_profiles_role ON profiles(role);

CREATE TABLE IF NOT EXISTS forum_posts (
    id           TEXT PRIMARY KEY,
    author_id    TEXT NOT NULL,
    title        TEXT NOT NULL DEFAULT '',
    content      TEXT NOT NULL DEFAULT '',
    is_flagged   BOOLEAN NOT NULL DEFAULT FALSE,
    flag_reasons TEXT NOT NULL DEFAULT '[]',
    is_hidden    BOOLEAN NOT NULL DEFAULT FALSE,
    is_pinned    BOOLEAN NOT NULL DEFAULT FALSE,
    is_locked    BOOLEAN NOT NULL DEFAULT FALSE,
    created_at   TIMESTAMP NOT NULL,
    updated_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_forum_posts_flagged ON forum_posts(is_flagged);

CREATE TABLE IF NOT EXISTS forum_replies (
    id           TEXT PRIMARY KEY,
    post_id      TEXT NOT NULL,
    author_id    TEXT NOT NULL,
    content      TEXT NOT NULL DEFAULT '',
    is_flagged   BOOLEAN NOT NULL DEFAULT FALSE,
    flag_reasons TEXT NOT NULL DEFAULT '[]',
    is_hidden    BOOLEAN NOT NULL DEFAULT FALSE,
    created_at   TIMESTAMP NOT NULL,
    updated_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_forum_replies_post ON forum_replies(post_id);

CREATE TABLE IF NOT EXISTS login_events (
    id          TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL,
    occurred_at TIMESTAMP NOT NULL,
    ip_address  TEXT NOT NULL DEFAULT '',
    user_agent  TEXT NOT NULL DEFAULT '',
    location    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_login_events_user_time ON login_events(user_id, occurred_at);
`,
	},
	// Migration 2: alerts, notifications and the moderator action log
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS security_alerts (
    id              TEXT PRIMARY KEY,
    idempotency_key TEXT NOT NULL UNIQUE,
    user_id         TEXT NOT NULL,
    subject_id      TEXT NOT NULL DEFAULT '',
    source          TEXT NOT NULL,
    alert_type      TEXT NOT NULL,
    severity        TEXT NOT NULL,
    message         TEXT NOT NULL DEFAULT '',
    details         TEXT NOT NULL DEFAULT '{}',
    auto_blocked    BOOLEAN NOT NULL DEFAULT FALSE,
    status          TEXT NOT NULL DEFAULT 'open',
    created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_security_alerts_user ON security_alerts(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_security_alerts_source ON security_alerts(source, status);

CREATE TABLE IF NOT EXISTS notifications (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    type       TEXT NOT NULL,
    title      TEXT NOT NULL DEFAULT '',
    message    TEXT NOT NULL DEFAULT '',
    action_url TEXT NOT NULL DEFAULT '',
    is_read    BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);

CREATE TABLE IF NOT EXISTS moderation_actions (
    id           TEXT PRIMARY KEY,
    subject_id   TEXT NOT NULL,
    subject_type TEXT NOT NULL,
    moderator_id TEXT NOT NULL DEFAULT '',
    action       TEXT NOT NULL,
    reason       TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_moderation_actions_subject ON moderation_actions(subject_id, created_at);
`,
	},
}
