package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/endarthur/holocene-sub000/internal/logging"
	"github.com/endarthur/holocene-sub000/internal/store"
)

// Link-preview crawlers that fetch magic-link URLs on the user's behalf.
// These must never consume a token.
var previewBotSubstrings = []string{
	"TelegramBot",
	"TwitterBot",
	"Slackbot",
	"WhatsApp",
	"Discordbot",
	"facebookexternalhit",
	"LinkedInBot",
}

// Service issues and redeems magic-link tokens and validates API bearer
// tokens. Session cookies are handled by the Sessions codec.
type Service struct {
	store  *store.Store
	ttl    time.Duration
	base   string
	logger logging.Logger
}

// NewService builds the auth service. baseURL is the externally reachable
// prefix embedded in magic-link URLs.
func NewService(st *store.Store, baseURL string, ttl time.Duration, logger logging.Logger) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		store:  st,
		ttl:    ttl,
		base:   strings.TrimRight(baseURL, "/"),
		logger: logging.OrNop(logger),
	}
}

// IssueMagicLink creates a single-use login token for a user and returns the
// URL to hand to the messaging side channel.
func (s *Service) IssueMagicLink(ctx context.Context, userID int64) (string, string, error) {
	token, err := randomToken()
	if err != nil {
		return "", "", err
	}
	if _, err := s.store.CreateAuthToken(ctx, userID, token, s.ttl); err != nil {
		return "", "", err
	}
	s.logger.Info("Issued magic link for user %d (expires in %s)", userID, s.ttl)
	return token, fmt.Sprintf("%s/auth/login?token=%s", s.base, token), nil
}

// ConsumeMagicLink atomically redeems a token, recording the caller's address
// and user agent. Expired, used, or unknown tokens return store.ErrNotFound.
func (s *Service) ConsumeMagicLink(ctx context.Context, token, ip, userAgent string) (int64, error) {
	return s.store.ConsumeAuthToken(ctx, token, ip, userAgent)
}

// IsPreviewBot reports whether a User-Agent belongs to a known link-preview
// crawler.
func IsPreviewBot(userAgent string) bool {
	for _, marker := range previewBotSubstrings {
		if strings.Contains(userAgent, marker) {
			return true
		}
	}
	return false
}

// IssueAPIToken creates a named long-lived bearer token.
func (s *Service) IssueAPIToken(ctx context.Context, userID int64, name string) (*store.APIToken, error) {
	token, err := randomToken()
	if err != nil {
		return nil, err
	}
	return s.store.CreateAPIToken(ctx, userID, token, name)
}

// randomToken returns 256 bits of URL-safe randomness.
func randomToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
