package store

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestUpsertLinkDeduplicatesOnCanonicalURL(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id1, created, err := st.UpsertLink(ctx, "https://example.com/a?utm_source=x", "telegram", "")
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if !created {
		t.Fatal("expected first upsert to create")
	}

	id2, created, err := st.UpsertLink(ctx, "https://example.com/a", "api", "A Title")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if created {
		t.Fatal("expected second upsert to dedupe")
	}
	if id1 != id2 {
		t.Fatalf("expected same id, got %d and %d", id1, id2)
	}

	link, err := st.GetLink(ctx, id1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if link.URL != "https://example.com/a" {
		t.Fatalf("expected canonical URL stored, got %q", link.URL)
	}
	if link.Title != "A Title" {
		t.Fatalf("expected empty title filled on re-seen link, got %q", link.Title)
	}
	if link.Source != "telegram" {
		t.Fatalf("expected original source kept, got %q", link.Source)
	}
}

func TestUpsertLinkConcurrentSameURL(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	ids := make([]int64, callers)
	createds := make([]bool, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], createds[i], errs[i] = st.UpsertLink(ctx, "https://example.com/contended", "api", "")
		}(i)
	}
	wg.Wait()

	var wasNew int
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("upsert %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("expected one row, got ids %v", ids)
		}
		if createds[i] {
			wasNew++
		}
	}
	if wasNew != 1 {
		t.Fatalf("expected exactly one caller to create, got %d", wasNew)
	}

	n, err := st.CountLinks(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 link, got %d", n)
	}
}

func TestUpsertLinkKeepsExistingTitle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, _, err := st.UpsertLink(ctx, "https://example.com/a", "api", "Original")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, _, err := st.UpsertLink(ctx, "https://example.com/a", "api", "Replacement"); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	link, err := st.GetLink(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if link.Title != "Original" {
		t.Fatalf("expected title untouched, got %q", link.Title)
	}
}

func TestUpdateLinkTitleOnlyFillsEmpty(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, _, err := st.UpsertLink(ctx, "https://example.com/a", "api", "")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := st.UpdateLinkTitle(ctx, id, "Fetched Title"); err != nil {
		t.Fatalf("update title: %v", err)
	}
	if err := st.UpdateLinkTitle(ctx, id, "Second Fetch"); err != nil {
		t.Fatalf("second update: %v", err)
	}

	link, err := st.GetLink(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if link.Title != "Fetched Title" {
		t.Fatalf("expected first fetched title kept, got %q", link.Title)
	}
}

func TestGetLinksDueForCheckOrderingAndWindow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	fresh, _, err := st.UpsertLink(ctx, "https://fresh.example.com/", "t", "")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	stale, _, err := st.UpsertLink(ctx, "https://stale.example.com/", "t", "")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	never1, _, err := st.UpsertLink(ctx, "https://recent-tier.example.com/", "t", "")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	never2, _, err := st.UpsertLink(ctx, "https://prellm-tier.example.com/", "t", "")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Probed 2 days ago: inside the 21-day freshness window, must be skipped.
	if _, err := st.db.Exec(`UPDATE links SET last_checked = ? WHERE id = ?`,
		time.Now().UTC().AddDate(0, 0, -2), fresh); err != nil {
		t.Fatalf("seed fresh: %v", err)
	}
	// Probed 30 days ago: due again, after the never-checked links.
	if _, err := st.db.Exec(`UPDATE links SET last_checked = ? WHERE id = ?`,
		time.Now().UTC().AddDate(0, 0, -30), stale); err != nil {
		t.Fatalf("seed stale: %v", err)
	}
	// Trust tiers: pre-llm archives outrank recent ones.
	if _, err := st.db.Exec(`UPDATE links SET trust_tier = 'recent' WHERE id = ?`, never1); err != nil {
		t.Fatalf("seed tier: %v", err)
	}
	if _, err := st.db.Exec(`UPDATE links SET trust_tier = 'pre-llm' WHERE id = ?`, never2); err != nil {
		t.Fatalf("seed tier: %v", err)
	}

	due, err := st.GetLinksDueForCheck(ctx, 10)
	if err != nil {
		t.Fatalf("due for check: %v", err)
	}

	ids := make([]int64, len(due))
	for i, link := range due {
		ids[i] = link.ID
	}
	want := []int64{never2, never1, stale}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, ids)
		}
	}
}

func TestGetLinksDueForCheckHonorsLimit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, u := range []string{
		"https://one.example.com/", "https://two.example.com/", "https://three.example.com/",
	} {
		if _, _, err := st.UpsertLink(ctx, u, "t", ""); err != nil {
			t.Fatalf("upsert %s: %v", u, err)
		}
	}

	due, err := st.GetLinksDueForCheck(ctx, 2)
	if err != nil {
		t.Fatalf("due for check: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected batch of 2, got %d", len(due))
	}
}

func TestUpdateLinkCheckAndHealthStats(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	alive, _, _ := st.UpsertLink(ctx, "https://alive.example.com/", "t", "")
	dead, _, _ := st.UpsertLink(ctx, "https://dead.example.com/", "t", "")
	if _, _, err := st.UpsertLink(ctx, "https://unchecked.example.com/", "t", ""); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := st.UpdateLinkCheck(ctx, alive, "alive", 200, 120); err != nil {
		t.Fatalf("update alive: %v", err)
	}
	if err := st.UpdateLinkCheck(ctx, dead, "not_found", 404, 80); err != nil {
		t.Fatalf("update dead: %v", err)
	}

	link, err := st.GetLink(ctx, alive)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if link.Status != "alive" || link.StatusCode == nil || *link.StatusCode != 200 {
		t.Fatalf("unexpected probe fields: %+v", link)
	}
	if link.LastChecked == nil {
		t.Fatal("expected last_checked set")
	}

	stats, err := st.LinkHealthStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Alive != 1 || stats.Dead != 1 || stats.Unchecked != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
