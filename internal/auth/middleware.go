package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/endarthur/holocene-sub000/internal/logging"
	"github.com/endarthur/holocene-sub000/internal/store"
)

const (
	bearerCacheSize = 128
	bearerCacheTTL  = 60 * time.Second
)

// userIDKey is the context key the middleware stores the authenticated user
// id under.
type userIDKey struct{}

// Middleware authenticates requests with either a signed session cookie or
// an API bearer token. Bearer lookups ride a short-TTL cache so hot clients
// do not hit the store on every request; Revoke purges the cache so
// revocation still lands within one request.
type Middleware struct {
	store    *store.Store
	sessions *Sessions
	cache    *expirable.LRU[string, int64]
	logger   logging.Logger
}

// NewMiddleware builds the authentication middleware.
func NewMiddleware(st *store.Store, sessions *Sessions, logger logging.Logger) *Middleware {
	return &Middleware{
		store:    st,
		sessions: sessions,
		cache:    expirable.NewLRU[string, int64](bearerCacheSize, nil, bearerCacheTTL),
		logger:   logging.OrNop(logger),
	}
}

// Require wraps a handler with authentication. Unauthenticated requests get
// a 401 JSON body.
func (m *Middleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := m.Authenticate(r)
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "authentication required"})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// Authenticate resolves the caller's user id from either credential source
// without enforcing anything.
func (m *Middleware) Authenticate(r *http.Request) (int64, bool) {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			return 0, false
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
		if token == "" {
			return 0, false
		}
		return m.validateBearer(r.Context(), token)
	}

	if cookie, err := r.Cookie(SessionCookie); err == nil {
		if userID, err := m.sessions.Verify(cookie.Value); err == nil {
			return userID, true
		}
	}
	return 0, false
}

func (m *Middleware) validateBearer(ctx context.Context, token string) (int64, bool) {
	if userID, ok := m.cache.Get(token); ok {
		return userID, true
	}
	userID, err := m.store.ValidateAPIToken(ctx, token)
	if err != nil {
		return 0, false
	}
	m.cache.Add(token, userID)
	return userID, true
}

// Revoke revokes an API token and drops it from the bearer cache.
func (m *Middleware) Revoke(ctx context.Context, id int64) error {
	if err := m.store.RevokeAPIToken(ctx, id); err != nil {
		return err
	}
	m.cache.Purge()
	return nil
}

// WithUserID stores an authenticated user id on a context.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext retrieves the authenticated user id, if any.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDKey{}).(int64)
	return userID, ok
}
