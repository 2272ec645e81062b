package auth

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/endarthur/holocene-sub000/internal/logging"
	"github.com/endarthur/holocene-sub000/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), logging.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSessionRoundTrip(t *testing.T) {
	s := &Sessions{key: []byte("test-signing-key")}

	value := s.Issue(7)
	userID, err := s.Verify(value)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if userID != 7 {
		t.Fatalf("expected user 7, got %d", userID)
	}
}

func TestSessionRejectsTampering(t *testing.T) {
	s := &Sessions{key: []byte("test-signing-key")}
	value := s.Issue(7)

	// Rewrite the user id but keep the original signature.
	parts := strings.SplitN(value, ".", 3)
	forged := "999." + parts[1] + "." + parts[2]
	if _, err := s.Verify(forged); err == nil {
		t.Fatal("expected forged session rejected")
	}

	other := &Sessions{key: []byte("different-key")}
	if _, err := other.Verify(value); err == nil {
		t.Fatal("expected cross-key session rejected")
	}

	for _, bad := range []string{"", "a.b", "not-even-close", value + "x"} {
		if _, err := s.Verify(bad); err == nil {
			t.Fatalf("expected %q rejected", bad)
		}
	}
}

func TestSessionRejectsExpired(t *testing.T) {
	s := &Sessions{key: []byte("test-signing-key")}

	payload := "7.1000000000" // epoch far in the past
	expired := payload + "." + s.sign(payload)
	if _, err := s.Verify(expired); err == nil {
		t.Fatal("expected expired session rejected")
	}
}

func TestLoadSessionsPersistsKey(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first, err := LoadSessions(ctx, st)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	second, err := LoadSessions(ctx, st)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}

	// A session issued under the first load must verify under the second.
	value := first.Issue(3)
	userID, err := second.Verify(value)
	if err != nil {
		t.Fatalf("verify across loads: %v", err)
	}
	if userID != 3 {
		t.Fatalf("expected user 3, got %d", userID)
	}

	if _, err := st.Setting(ctx, SigningKeySetting); err != nil {
		t.Fatalf("expected signing key persisted: %v", err)
	}
}

func TestCookieHelpers(t *testing.T) {
	s := &Sessions{key: []byte("k")}

	w := httptest.NewRecorder()
	s.SetCookie(w, 5)
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != SessionCookie {
		t.Fatalf("unexpected cookies: %v", cookies)
	}
	if !cookies[0].HttpOnly {
		t.Fatal("session cookie must be HttpOnly")
	}
	if _, err := s.Verify(cookies[0].Value); err != nil {
		t.Fatalf("cookie value does not verify: %v", err)
	}

	w = httptest.NewRecorder()
	s.ClearCookie(w)
	cookies = w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge != -1 {
		t.Fatalf("expected expiring cookie, got %v", cookies)
	}
}
