package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func testUser(t *testing.T, st *Store) *User {
	t.Helper()
	user, err := st.EnsureUser(context.Background(), 42, "tester", true)
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	return user
}

func TestEnsureUserIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first, err := st.EnsureUser(ctx, 42, "tester", false)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := st.EnsureUser(ctx, 42, "renamed", false)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same user, got %d and %d", first.ID, second.ID)
	}
	if second.TelegramUsername != "renamed" {
		t.Fatalf("expected username refreshed, got %q", second.TelegramUsername)
	}
}

func TestConsumeAuthTokenIsSingleUse(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	user := testUser(t, st)

	tok, err := st.CreateAuthToken(ctx, user.ID, "magic-token", 5*time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	userID, err := st.ConsumeAuthToken(ctx, tok.Token, "1.2.3.4", "browser")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if userID != user.ID {
		t.Fatalf("expected user %d, got %d", user.ID, userID)
	}

	if _, err := st.ConsumeAuthToken(ctx, tok.Token, "1.2.3.4", "browser"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second consume, got %v", err)
	}

	peeked, err := st.PeekAuthToken(ctx, tok.Token)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if peeked.UsedAt == nil || peeked.IPAddress != "1.2.3.4" || peeked.UserAgent != "browser" {
		t.Fatalf("redemption metadata not recorded: %+v", peeked)
	}

	refreshed, err := st.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if refreshed.LastLoginAt == nil {
		t.Fatal("expected last_login_at set on redemption")
	}
}

func TestConsumeAuthTokenConcurrentSingleWinner(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	user := testUser(t, st)

	tok, err := st.CreateAuthToken(ctx, user.ID, "contested", 5*time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const racers = 8
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.ConsumeAuthToken(ctx, tok.Token, "", ""); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var n int
	for range wins {
		n++
	}
	if n != 1 {
		t.Fatalf("expected exactly one successful redemption, got %d", n)
	}
}

func TestConsumeAuthTokenExpired(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	user := testUser(t, st)

	tok, err := st.CreateAuthToken(ctx, user.ID, "expired", -time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := st.ConsumeAuthToken(ctx, tok.Token, "", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired token, got %v", err)
	}
}

func TestAPITokenLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	user := testUser(t, st)

	tok, err := st.CreateAPIToken(ctx, user.ID, "bearer-value", "laptop")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	userID, err := st.ValidateAPIToken(ctx, tok.Token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if userID != user.ID {
		t.Fatalf("expected user %d, got %d", user.ID, userID)
	}

	if err := st.RevokeAPIToken(ctx, tok.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := st.ValidateAPIToken(ctx, tok.Token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after revoke, got %v", err)
	}
	if err := st.RevokeAPIToken(ctx, tok.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double revoke, got %v", err)
	}

	tokens, err := st.ListAPITokens(ctx, user.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tokens) != 1 || tokens[0].RevokedAt == nil || tokens[0].LastUsedAt == nil {
		t.Fatalf("unexpected token list: %+v", tokens)
	}
}

func TestSettings(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.Setting(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := st.SetSetting(ctx, "key", "v1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := st.SetSetting(ctx, "key", "v2"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	value, err := st.Setting(ctx, "key")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != "v2" {
		t.Fatalf("expected v2, got %q", value)
	}
}
