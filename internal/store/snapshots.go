package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math/rand"
	"time"
)

const snapshotColumns = `id, link_id, service, status, snapshot_url, archive_date,
	attempts, next_retry_after, error_message, metadata, created_at`

// RecordSnapshotSuccess inserts a success row for (linkID, service), resets
// the link's failure counter, and for the Internet Archive service mirrors
// the archive fields onto the link row.
func (s *Store) RecordSnapshotSuccess(ctx context.Context, linkID int64, service, snapshotURL string, archiveDate *time.Time, metadata map[string]any) (int64, error) {
	now := time.Now().UTC()
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO archive_snapshots (link_id, service, status, snapshot_url, archive_date, attempts, metadata, created_at)
VALUES (?, ?, ?, ?, ?, 1, ?, ?)`, linkID, service, SnapshotSuccess, snapshotURL, archiveDate, meta, now)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if service == ServiceInternetArchive {
		date := now
		if archiveDate != nil {
			date = archiveDate.UTC()
		}
		_, err = s.db.ExecContext(ctx, `
UPDATE links SET archived = 1, archive_url = ?, archive_date = ?, trust_tier = ?,
	archive_attempts = 0, next_retry_after = NULL
WHERE id = ?`, snapshotURL, date, TrustTier(date), linkID)
	} else {
		_, err = s.db.ExecContext(ctx, `
UPDATE links SET archive_attempts = 0, next_retry_after = NULL WHERE id = ?`, linkID)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// RecordSnapshotFailure inserts a failed row whose attempts counter continues
// the run of consecutive failures for (linkID, service). The retry horizon is
// now + 2^min(attempts,10) days with ±10% jitter.
func (s *Store) RecordSnapshotFailure(ctx context.Context, linkID int64, service, errMsg string) (int, time.Time, error) {
	attempts, err := s.consecutiveFailures(ctx, linkID, service)
	if err != nil {
		return 0, time.Time{}, err
	}
	attempts++

	now := time.Now().UTC()
	nextRetry := now.Add(backoffDelay(attempts))

	if _, err := s.db.ExecContext(ctx, `
INSERT INTO archive_snapshots (link_id, service, status, attempts, next_retry_after, error_message, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`, linkID, service, SnapshotFailed, attempts, nextRetry, errMsg, now); err != nil {
		return 0, time.Time{}, err
	}
	if _, err := s.db.ExecContext(ctx, `
UPDATE links SET archive_attempts = ?, next_retry_after = ? WHERE id = ?`, attempts, nextRetry, linkID); err != nil {
		return 0, time.Time{}, err
	}
	return attempts, nextRetry, nil
}

// RecordSnapshotPermanentFailure inserts a failed row with no retry horizon;
// such rows never become retry-eligible.
func (s *Store) RecordSnapshotPermanentFailure(ctx context.Context, linkID int64, service, errMsg string) (int, error) {
	attempts, err := s.consecutiveFailures(ctx, linkID, service)
	if err != nil {
		return 0, err
	}
	attempts++

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO archive_snapshots (link_id, service, status, attempts, error_message, created_at)
VALUES (?, ?, ?, ?, ?, ?)`, linkID, service, SnapshotFailed, attempts, errMsg, now); err != nil {
		return 0, err
	}
	if _, err := s.db.ExecContext(ctx, `
UPDATE links SET archive_attempts = ?, next_retry_after = NULL WHERE id = ?`, attempts, linkID); err != nil {
		return 0, err
	}
	return attempts, nil
}

// consecutiveFailures returns the attempts counter on the newest snapshot for
// (linkID, service) when that snapshot failed, else 0.
func (s *Store) consecutiveFailures(ctx context.Context, linkID int64, service string) (int, error) {
	var status string
	var attempts int
	err := s.db.QueryRowContext(ctx, `
SELECT status, attempts FROM archive_snapshots
WHERE link_id = ? AND service = ?
ORDER BY id DESC LIMIT 1`, linkID, service).Scan(&status, &attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if status != SnapshotFailed {
		return 0, nil
	}
	return attempts, nil
}

// backoffDelay computes the exponential retry delay for an attempt count:
// 2^min(attempts,10) days with ±10% jitter.
func backoffDelay(attempts int) time.Duration {
	exp := attempts
	if exp > 10 {
		exp = 10
	}
	days := float64(int64(1) << uint(exp))
	jitter := 0.9 + 0.2*rand.Float64()
	return time.Duration(days * jitter * float64(24*time.Hour))
}

// LatestSnapshot returns the newest snapshot for (linkID, service).
func (s *Store) LatestSnapshot(ctx context.Context, linkID int64, service string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+snapshotColumns+` FROM archive_snapshots
WHERE link_id = ? AND service = ?
ORDER BY id DESC LIMIT 1`, linkID, service)
	return scanSnapshot(row)
}

// LatestSuccess returns the newest success snapshot for (linkID, service),
// regardless of later failures.
func (s *Store) LatestSuccess(ctx context.Context, linkID int64, service string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+snapshotColumns+` FROM archive_snapshots
WHERE link_id = ? AND service = ? AND status = ?
ORDER BY id DESC LIMIT 1`, linkID, service, SnapshotSuccess)
	return scanSnapshot(row)
}

// GetSnapshot fetches one snapshot by id.
func (s *Store) GetSnapshot(ctx context.Context, id int64) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+snapshotColumns+` FROM archive_snapshots WHERE id = ?`, id)
	return scanSnapshot(row)
}

// ListSnapshotsForLink returns snapshots for a link, oldest first, optionally
// filtered by service.
func (s *Store) ListSnapshotsForLink(ctx context.Context, linkID int64, service string) ([]*Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM archive_snapshots WHERE link_id = ?`
	args := []any{linkID}
	if service != "" {
		query += ` AND service = ?`
		args = append(args, service)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// GetRetryEligibleSnapshots returns the newest failed snapshot per
// (link, service) whose retry horizon has passed and whose attempts counter
// is still under maxAttempts.
func (s *Store) GetRetryEligibleSnapshots(ctx context.Context, maxAttempts int, now time.Time, limit int) ([]*Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT s.id, s.link_id, s.service, s.status, s.snapshot_url, s.archive_date,
	s.attempts, s.next_retry_after, s.error_message, s.metadata, s.created_at
FROM archive_snapshots s
JOIN (
    SELECT link_id, service, MAX(id) AS max_id
    FROM archive_snapshots GROUP BY link_id, service
) latest ON s.id = latest.max_id
WHERE s.status = ? AND s.next_retry_after IS NOT NULL AND s.next_retry_after <= ? AND s.attempts < ?
ORDER BY s.next_retry_after ASC
LIMIT ?`, SnapshotFailed, now.UTC(), maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func encodeMetadata(metadata map[string]any) (string, error) {
	if metadata == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func scanSnapshot(row rowScanner) (*Snapshot, error) {
	var snap Snapshot
	var archiveDate, nextRetry sql.NullTime
	var meta string
	err := row.Scan(
		&snap.ID, &snap.LinkID, &snap.Service, &snap.Status, &snap.SnapshotURL,
		&archiveDate, &snap.Attempts, &nextRetry, &snap.ErrorMessage, &meta, &snap.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if archiveDate.Valid {
		t := archiveDate.Time
		snap.ArchiveDate = &t
	}
	if nextRetry.Valid {
		t := nextRetry.Time
		snap.NextRetryAfter = &t
	}
	if meta != "" && meta != "{}" {
		_ = json.Unmarshal([]byte(meta), &snap.Metadata)
	}
	return &snap, nil
}
