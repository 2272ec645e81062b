package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// EnsureUser returns the user for a Telegram account, creating it on first
// contact. Username is refreshed on every call.
func (s *Store) EnsureUser(ctx context.Context, telegramUserID int64, username string, isAdmin bool) (*User, error) {
	now := time.Now().UTC()
	var id int64
	err := s.db.QueryRowContext(ctx, `
SELECT id FROM users WHERE telegram_user_id = ?`, telegramUserID).Scan(&id)
	switch {
	case err == nil:
		if _, err := s.db.ExecContext(ctx, `
UPDATE users SET telegram_username = ? WHERE id = ?`, username, id); err != nil {
			return nil, err
		}
	case errors.Is(err, sql.ErrNoRows):
		res, err := s.db.ExecContext(ctx, `
INSERT INTO users (telegram_user_id, telegram_username, is_admin, created_at)
VALUES (?, ?, ?, ?)`, telegramUserID, username, isAdmin, now)
		if err != nil {
			return nil, err
		}
		if id, err = res.LastInsertId(); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	return s.GetUser(ctx, id)
}

// GetUser fetches one user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	var user User
	var lastLogin sql.NullTime
	err := s.db.QueryRowContext(ctx, `
SELECT id, telegram_user_id, telegram_username, is_admin, created_at, last_login_at
FROM users WHERE id = ?`, id).Scan(
		&user.ID, &user.TelegramUserID, &user.TelegramUsername, &user.IsAdmin,
		&user.CreatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		user.LastLoginAt = &t
	}
	return &user, nil
}

// CreateAuthToken stores a single-use magic-link token for a user.
func (s *Store) CreateAuthToken(ctx context.Context, userID int64, token string, ttl time.Duration) (*AuthToken, error) {
	now := time.Now().UTC()
	expires := now.Add(ttl)
	res, err := s.db.ExecContext(ctx, `
INSERT INTO auth_tokens (user_id, token, created_at, expires_at)
VALUES (?, ?, ?, ?)`, userID, token, now, expires)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &AuthToken{ID: id, UserID: userID, Token: token, CreatedAt: now, ExpiresAt: expires}, nil
}

// ConsumeAuthToken atomically marks a magic-link token used and returns its
// user id. A token that is missing, expired, or already used yields
// ErrNotFound; the single UPDATE guard makes double-spending impossible.
func (s *Store) ConsumeAuthToken(ctx context.Context, token, ip, userAgent string) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
UPDATE auth_tokens SET used_at = ?, ip_address = ?, user_agent = ?
WHERE token = ? AND used_at IS NULL AND expires_at > ?`, now, ip, userAgent, token, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNotFound
	}

	var userID int64
	if err := s.db.QueryRowContext(ctx, `
SELECT user_id FROM auth_tokens WHERE token = ?`, token).Scan(&userID); err != nil {
		return 0, err
	}
	if _, err := s.db.ExecContext(ctx, `
UPDATE users SET last_login_at = ? WHERE id = ?`, now, userID); err != nil {
		return 0, err
	}
	return userID, nil
}

// PeekAuthToken fetches a magic-link token without consuming it.
func (s *Store) PeekAuthToken(ctx context.Context, token string) (*AuthToken, error) {
	var at AuthToken
	var usedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
SELECT id, user_id, token, created_at, expires_at, used_at, ip_address, user_agent
FROM auth_tokens WHERE token = ?`, token).Scan(
		&at.ID, &at.UserID, &at.Token, &at.CreatedAt, &at.ExpiresAt,
		&usedAt, &at.IPAddress, &at.UserAgent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if usedAt.Valid {
		t := usedAt.Time
		at.UsedAt = &t
	}
	return &at, nil
}

// CreateAPIToken stores a long-lived bearer token.
func (s *Store) CreateAPIToken(ctx context.Context, userID int64, token, name string) (*APIToken, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO api_tokens (user_id, token, name, created_at)
VALUES (?, ?, ?, ?)`, userID, token, name, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &APIToken{ID: id, UserID: userID, Token: token, Name: name, CreatedAt: now}, nil
}

// ValidateAPIToken returns the owning user id for an unrevoked bearer token
// and touches last_used_at. Revoked or unknown tokens yield ErrNotFound.
func (s *Store) ValidateAPIToken(ctx context.Context, token string) (int64, error) {
	var userID int64
	err := s.db.QueryRowContext(ctx, `
SELECT user_id FROM api_tokens WHERE token = ? AND revoked_at IS NULL`, token).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	_, err = s.db.ExecContext(ctx, `
UPDATE api_tokens SET last_used_at = ? WHERE token = ?`, time.Now().UTC(), token)
	return userID, err
}

// RevokeAPIToken marks a bearer token revoked by id.
func (s *Store) RevokeAPIToken(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE api_tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAPITokens returns all bearer tokens for a user, including revoked ones.
func (s *Store) ListAPITokens(ctx context.Context, userID int64) ([]*APIToken, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, token, name, created_at, last_used_at, revoked_at
FROM api_tokens WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []*APIToken
	for rows.Next() {
		var tok APIToken
		var lastUsed, revoked sql.NullTime
		if err := rows.Scan(&tok.ID, &tok.UserID, &tok.Token, &tok.Name, &tok.CreatedAt, &lastUsed, &revoked); err != nil {
			return nil, err
		}
		if lastUsed.Valid {
			t := lastUsed.Time
			tok.LastUsedAt = &t
		}
		if revoked.Valid {
			t := revoked.Time
			tok.RevokedAt = &t
		}
		tokens = append(tokens, &tok)
	}
	return tokens, rows.Err()
}

// Setting reads a daemon setting; ErrNotFound when unset.
func (s *Store) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
SELECT value FROM daemon_settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// SetSetting upserts a daemon setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO daemon_settings (key, value, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now, now)
	return err
}
