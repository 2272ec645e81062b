package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const linkColumns = `id, url, source, title, first_seen, last_seen, last_checked,
	status, status_code, response_time_ms, archived, archive_url, archive_date,
	trust_tier, archive_attempts, next_retry_after`

// UpsertLink canonicalizes url and inserts it, or refreshes last_seen (and a
// missing title) when the canonical URL already exists. Returns the row id
// and whether a new row was created. Insert-first with ON CONFLICT so two
// concurrent upserts of the same new URL never surface a constraint error.
func (s *Store) UpsertLink(ctx context.Context, rawURL, source, title string) (int64, bool, error) {
	canonical, err := CanonicalizeURL(rawURL)
	if err != nil {
		return 0, false, fmt.Errorf("canonicalize %q: %w", rawURL, err)
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
INSERT INTO links (url, source, title, first_seen, last_seen)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(url) DO NOTHING`, canonical, source, title, now, now)
	if err != nil {
		return 0, false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if inserted == 1 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, false, err
		}
		return id, true, nil
	}

	if _, err := s.db.ExecContext(ctx, `
UPDATE links SET last_seen = ?, title = CASE WHEN title = '' THEN ? ELSE title END
WHERE url = ?`, now, title, canonical); err != nil {
		return 0, false, err
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM links WHERE url = ?`, canonical).Scan(&id); err != nil {
		return 0, false, err
	}
	return id, false, nil
}

// GetLink fetches one link by id.
func (s *Store) GetLink(ctx context.Context, id int64) (*Link, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM links WHERE id = ?`, id)
	return scanLink(row)
}

// ListLinks returns links newest-first with limit/offset pagination.
func (s *Store) ListLinks(ctx context.Context, limit, offset int) ([]*Link, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+linkColumns+` FROM links ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*Link
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// GetLinksDueForCheck returns up to limit links ordered for health probing:
// never-checked links first, then by trust tier priority, then by oldest
// last_checked. Links probed within the freshness window (21 days) are
// skipped entirely.
func (s *Store) GetLinksDueForCheck(ctx context.Context, limit int) ([]*Link, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -21)
	rows, err := s.db.QueryContext(ctx, `
SELECT `+linkColumns+` FROM links
WHERE last_checked IS NULL OR last_checked < ?
ORDER BY
    CASE WHEN last_checked IS NULL THEN 0 ELSE 1 END,
    CASE trust_tier
        WHEN 'pre-llm' THEN 0
        WHEN 'early-llm' THEN 1
        WHEN 'recent' THEN 2
        ELSE 3
    END,
    last_checked ASC
LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*Link
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// UpdateLinkCheck records the outcome of one health probe.
func (s *Store) UpdateLinkCheck(ctx context.Context, id int64, status string, statusCode, responseTimeMs int) error {
	var code any
	if statusCode > 0 {
		code = statusCode
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE links SET last_checked = ?, status = ?, status_code = ?, response_time_ms = ?
WHERE id = ?`, time.Now().UTC(), status, code, responseTimeMs, id)
	return err
}

// UpdateLinkTitle fills the title when still empty, e.g. after background
// page-title extraction.
func (s *Store) UpdateLinkTitle(ctx context.Context, id int64, title string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE links SET title = ? WHERE id = ? AND title = ''`, title, id)
	return err
}

// LinkHealthStats aggregates probe outcomes across the whole table.
func (s *Store) LinkHealthStats(ctx context.Context) (HealthStats, error) {
	var stats HealthStats
	err := s.db.QueryRowContext(ctx, `
SELECT
    COUNT(*),
    COALESCE(SUM(CASE WHEN status = 'alive' THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN status IN ('dead', 'not_found', 'server_error', 'forbidden') THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN last_checked IS NULL THEN 1 ELSE 0 END), 0)
FROM links`).Scan(&stats.Total, &stats.Alive, &stats.Dead, &stats.Unchecked)
	return stats, err
}

// CountLinks returns the total number of stored links.
func (s *Store) CountLinks(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM links`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (*Link, error) {
	var link Link
	var lastChecked, archiveDate, nextRetry sql.NullTime
	var statusCode, responseTime sql.NullInt64
	var trustTier sql.NullString
	err := row.Scan(
		&link.ID, &link.URL, &link.Source, &link.Title,
		&link.FirstSeen, &link.LastSeen, &lastChecked,
		&link.Status, &statusCode, &responseTime,
		&link.Archived, &link.ArchiveURL, &archiveDate,
		&trustTier, &link.ArchiveAttempts, &nextRetry,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastChecked.Valid {
		t := lastChecked.Time
		link.LastChecked = &t
	}
	if archiveDate.Valid {
		t := archiveDate.Time
		link.ArchiveDate = &t
	}
	if nextRetry.Valid {
		t := nextRetry.Time
		link.NextRetryAfter = &t
	}
	if statusCode.Valid {
		v := int(statusCode.Int64)
		link.StatusCode = &v
	}
	if responseTime.Valid {
		v := int(responseTime.Int64)
		link.ResponseTimeMs = &v
	}
	if trustTier.Valid {
		link.TrustTier = trustTier.String
	}
	return &link, nil
}
