package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one additive schema step. Migrations never drop or rewrite
// existing data; applied versions are recorded in schema_version.
type migration struct {
	version int
	name    string
	apply   func(*sql.Tx) error
}

func execAll(tx *sql.Tx, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("%w (stmt: %.60s)", err, stmt)
		}
	}
	return nil
}

var migrations = []migration{
	{
		version: 1,
		name:    "create links",
		apply: func(tx *sql.Tx) error {
			return execAll(tx, `
CREATE TABLE IF NOT EXISTS links (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    url              TEXT NOT NULL UNIQUE,
    source           TEXT NOT NULL DEFAULT '',
    title            TEXT NOT NULL DEFAULT '',
    first_seen       TIMESTAMP NOT NULL,
    last_seen        TIMESTAMP NOT NULL,
    last_checked     TIMESTAMP,
    status           TEXT NOT NULL DEFAULT '',
    status_code      INTEGER,
    response_time_ms INTEGER,
    archived         INTEGER NOT NULL DEFAULT 0,
    archive_url      TEXT NOT NULL DEFAULT '',
    archive_date     TIMESTAMP,
    trust_tier       TEXT,
    archive_attempts INTEGER NOT NULL DEFAULT 0,
    next_retry_after TIMESTAMP
)`)
		},
	},
	{
		version: 2,
		name:    "create archive_snapshots",
		apply: func(tx *sql.Tx) error {
			return execAll(tx, `
CREATE TABLE IF NOT EXISTS archive_snapshots (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    link_id          INTEGER NOT NULL REFERENCES links(id),
    service          TEXT NOT NULL,
    status           TEXT NOT NULL,
    snapshot_url     TEXT NOT NULL DEFAULT '',
    archive_date     TIMESTAMP,
    attempts         INTEGER NOT NULL DEFAULT 1,
    next_retry_after TIMESTAMP,
    error_message    TEXT NOT NULL DEFAULT '',
    metadata         TEXT NOT NULL DEFAULT '{}',
    created_at       TIMESTAMP NOT NULL
)`,
				`CREATE INDEX IF NOT EXISTS idx_snapshots_link_service ON archive_snapshots(link_id, service, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_snapshots_retry ON archive_snapshots(status, next_retry_after)`)
		},
	},
	{
		version: 3,
		name:    "create library tables",
		apply: func(tx *sql.Tx) error {
			return execAll(tx, `
CREATE TABLE IF NOT EXISTS books (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    title          TEXT NOT NULL,
    author         TEXT NOT NULL,
    year           INTEGER,
    isbn           TEXT NOT NULL DEFAULT '',
    dewey_number   TEXT NOT NULL DEFAULT '',
    cutter         TEXT NOT NULL DEFAULT '',
    call_number    TEXT NOT NULL DEFAULT '',
    reading_status TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMP NOT NULL,
    UNIQUE(title, author)
)`, `
CREATE TABLE IF NOT EXISTS papers (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    doi            TEXT,
    title          TEXT NOT NULL,
    first_author   TEXT NOT NULL DEFAULT '',
    year           INTEGER,
    journal        TEXT NOT NULL DEFAULT '',
    udc_number     TEXT NOT NULL DEFAULT '',
    cutter         TEXT NOT NULL DEFAULT '',
    call_number    TEXT NOT NULL DEFAULT '',
    reading_status TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMP NOT NULL
)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_papers_doi ON papers(doi) WHERE doi IS NOT NULL AND doi != ''`)
		},
	},
	{
		version: 4,
		name:    "create auth tables",
		apply: func(tx *sql.Tx) error {
			return execAll(tx, `
CREATE TABLE IF NOT EXISTS users (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    telegram_user_id  INTEGER NOT NULL UNIQUE,
    telegram_username TEXT NOT NULL DEFAULT '',
    is_admin          INTEGER NOT NULL DEFAULT 0,
    created_at        TIMESTAMP NOT NULL,
    last_login_at     TIMESTAMP
)`, `
CREATE TABLE IF NOT EXISTS auth_tokens (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id    INTEGER NOT NULL REFERENCES users(id),
    token      TEXT NOT NULL UNIQUE,
    created_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL,
    used_at    TIMESTAMP,
    ip_address TEXT NOT NULL DEFAULT '',
    user_agent TEXT NOT NULL DEFAULT ''
)`, `
CREATE TABLE IF NOT EXISTS api_tokens (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id      INTEGER NOT NULL REFERENCES users(id),
    token        TEXT NOT NULL UNIQUE,
    name         TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMP NOT NULL,
    last_used_at TIMESTAMP,
    revoked_at   TIMESTAMP
)`, `
CREATE TABLE IF NOT EXISTS daemon_settings (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`)
		},
	},
	{
		version: 5,
		name:    "index links for health scheduling",
		apply: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE INDEX IF NOT EXISTS idx_links_last_checked ON links(last_checked)`,
				`CREATE INDEX IF NOT EXISTS idx_links_trust_tier ON links(trust_tier)`)
		},
	},
}

// migrate applies pending migrations in version order.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMP NOT NULL
)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	applied := map[int]bool{}
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_version`)
	if err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := m.apply(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version, name, applied_at) VALUES (?, ?, CURRENT_TIMESTAMP)`, m.version, m.name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		s.logger.Info("Applied migration %d: %s", m.version, m.name)
	}
	return nil
}
