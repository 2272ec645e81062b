package store

import (
	"context"
	"testing"
	"time"
)

func TestBackoffDelayLadder(t *testing.T) {
	day := 24 * time.Hour
	cases := []struct {
		attempts int
		baseDays time.Duration
	}{
		{1, 2 * day},
		{2, 4 * day},
		{3, 8 * day},
		{10, 1024 * day},
		{15, 1024 * day}, // capped at 2^10
	}
	for _, tc := range cases {
		got := backoffDelay(tc.attempts)
		lo := time.Duration(float64(tc.baseDays) * 0.9)
		hi := time.Duration(float64(tc.baseDays) * 1.1)
		if got < lo || got > hi {
			t.Errorf("backoffDelay(%d) = %s, want within [%s, %s]", tc.attempts, got, lo, hi)
		}
	}
}

func TestRecordSnapshotFailureAdvancesLadder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, _, err := st.UpsertLink(ctx, "https://example.com/a", "t", "")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	attempts, retry1, err := st.RecordSnapshotFailure(ctx, id, ServiceLocalMonolith, "boom")
	if err != nil {
		t.Fatalf("first failure: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected attempt 1, got %d", attempts)
	}
	if until := time.Until(retry1); until < 36*time.Hour || until > 60*time.Hour {
		t.Fatalf("first retry horizon %s not near 2 days", until)
	}

	attempts, _, err = st.RecordSnapshotFailure(ctx, id, ServiceLocalMonolith, "boom again")
	if err != nil {
		t.Fatalf("second failure: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected attempt 2, got %d", attempts)
	}

	link, err := st.GetLink(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if link.ArchiveAttempts != 2 || link.NextRetryAfter == nil {
		t.Fatalf("link not mirroring failure state: %+v", link)
	}
}

func TestRecordSnapshotSuccessResetsLadder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, _, err := st.UpsertLink(ctx, "https://example.com/a", "t", "")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if _, _, err := st.RecordSnapshotFailure(ctx, id, ServiceLocalMonolith, "boom"); err != nil {
		t.Fatalf("failure: %v", err)
	}
	if _, err := st.RecordSnapshotSuccess(ctx, id, ServiceLocalMonolith, "/tmp/snap.html", nil, nil); err != nil {
		t.Fatalf("success: %v", err)
	}

	link, err := st.GetLink(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if link.ArchiveAttempts != 0 || link.NextRetryAfter != nil {
		t.Fatalf("expected counters reset, got %+v", link)
	}

	// Failure streak starts over after a success.
	attempts, _, err := st.RecordSnapshotFailure(ctx, id, ServiceLocalMonolith, "boom")
	if err != nil {
		t.Fatalf("failure after success: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected streak reset to 1, got %d", attempts)
	}
}

func TestInternetArchiveSuccessMirrorsOntoLink(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, _, err := st.UpsertLink(ctx, "https://example.com/a", "t", "")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	date := mustDate(t, "2019-06-01")
	if _, err := st.RecordSnapshotSuccess(ctx, id, ServiceInternetArchive,
		"https://web.archive.org/web/20190601000000/https://example.com/a", &date, nil); err != nil {
		t.Fatalf("success: %v", err)
	}

	link, err := st.GetLink(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !link.Archived {
		t.Fatal("expected archived flag set")
	}
	if link.TrustTier != TierPreLLM {
		t.Fatalf("expected pre-llm tier for 2019 archive, got %q", link.TrustTier)
	}
	if link.ArchiveURL == "" || link.ArchiveDate == nil {
		t.Fatalf("expected archive fields mirrored, got %+v", link)
	}
}

func TestLocalSuccessDoesNotMarkArchived(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, _, err := st.UpsertLink(ctx, "https://example.com/a", "t", "")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := st.RecordSnapshotSuccess(ctx, id, ServiceLocalMonolith, "/tmp/x.html", nil, nil); err != nil {
		t.Fatalf("success: %v", err)
	}

	link, err := st.GetLink(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if link.Archived {
		t.Fatal("local snapshot must not set the IA archived flag")
	}
}

func TestGetRetryEligibleSnapshots(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	due, _, err := st.UpsertLink(ctx, "https://due.example.com/", "t", "")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	future, _, err := st.UpsertLink(ctx, "https://future.example.com/", "t", "")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	exhausted, _, err := st.UpsertLink(ctx, "https://exhausted.example.com/", "t", "")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	permanent, _, err := st.UpsertLink(ctx, "https://permanent.example.com/", "t", "")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	recovered, _, err := st.UpsertLink(ctx, "https://recovered.example.com/", "t", "")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	for _, id := range []int64{due, future, exhausted} {
		if _, _, err := st.RecordSnapshotFailure(ctx, id, ServiceInternetArchive, "boom"); err != nil {
			t.Fatalf("failure: %v", err)
		}
	}
	if _, err := st.RecordSnapshotPermanentFailure(ctx, permanent, ServiceInternetArchive, "404"); err != nil {
		t.Fatalf("permanent failure: %v", err)
	}
	// Failed once, then succeeded: the newest row is a success, not eligible.
	if _, _, err := st.RecordSnapshotFailure(ctx, recovered, ServiceInternetArchive, "boom"); err != nil {
		t.Fatalf("failure: %v", err)
	}
	if _, err := st.RecordSnapshotSuccess(ctx, recovered, ServiceInternetArchive, "https://web.archive.org/x", nil, nil); err != nil {
		t.Fatalf("success: %v", err)
	}

	// Pull the due link's horizon into the past; push the exhausted link's
	// attempts to the cap.
	if _, err := st.db.Exec(`
UPDATE archive_snapshots SET next_retry_after = ? WHERE link_id = ?`,
		time.Now().UTC().Add(-time.Hour), due); err != nil {
		t.Fatalf("seed due: %v", err)
	}
	if _, err := st.db.Exec(`
UPDATE archive_snapshots SET attempts = 10, next_retry_after = ? WHERE link_id = ?`,
		time.Now().UTC().Add(-time.Hour), exhausted); err != nil {
		t.Fatalf("seed exhausted: %v", err)
	}

	snaps, err := st.GetRetryEligibleSnapshots(ctx, 10, time.Now(), 50)
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected exactly the due snapshot, got %d rows", len(snaps))
	}
	if snaps[0].LinkID != due {
		t.Fatalf("expected link %d, got %d", due, snaps[0].LinkID)
	}
}

func TestLatestSuccessSurvivesLaterFailures(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, _, err := st.UpsertLink(ctx, "https://example.com/a", "t", "")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := st.RecordSnapshotSuccess(ctx, id, ServiceInternetArchive, "https://web.archive.org/ok", nil, nil); err != nil {
		t.Fatalf("success: %v", err)
	}
	if _, _, err := st.RecordSnapshotFailure(ctx, id, ServiceInternetArchive, "later boom"); err != nil {
		t.Fatalf("failure: %v", err)
	}

	snap, err := st.LatestSuccess(ctx, id, ServiceInternetArchive)
	if err != nil {
		t.Fatalf("latest success: %v", err)
	}
	if snap.SnapshotURL != "https://web.archive.org/ok" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	latest, err := st.LatestSnapshot(ctx, id, ServiceInternetArchive)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Status != SnapshotFailed {
		t.Fatalf("expected newest row to be the failure, got %+v", latest)
	}
}
