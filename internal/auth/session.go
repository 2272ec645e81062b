package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/endarthur/holocene-sub000/internal/store"
)

// SessionCookie is the name of the signed session cookie.
const SessionCookie = "holod_session"

// SigningKeySetting is the daemon_settings key holding the session signing
// key. The name is shared with the mobile front-end's database schema.
const SigningKeySetting = "flask_secret_key"

const sessionLifetime = 30 * 24 * time.Hour

// ErrBadSession is returned for missing, malformed, expired or forged
// session values.
var ErrBadSession = errors.New("auth: invalid session")

// Sessions signs and verifies session cookie values of the form
// userID.expiresUnix.signature. The signing key persists in daemon_settings,
// so sessions survive restarts.
type Sessions struct {
	key []byte
}

// LoadSessions reads the signing key from the store, generating and
// persisting one on first run.
func LoadSessions(ctx context.Context, st *store.Store) (*Sessions, error) {
	value, err := st.Setting(ctx, SigningKeySetting)
	if errors.Is(err, store.ErrNotFound) {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return nil, err
		}
		value = base64.RawURLEncoding.EncodeToString(raw)
		if err := st.SetSetting(ctx, SigningKeySetting, value); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	return &Sessions{key: []byte(value)}, nil
}

// Issue returns a signed session value for a user.
func (s *Sessions) Issue(userID int64) string {
	expires := time.Now().Add(sessionLifetime).Unix()
	payload := fmt.Sprintf("%d.%d", userID, expires)
	return payload + "." + s.sign(payload)
}

// Verify checks a session value and returns the user id.
func (s *Sessions) Verify(value string) (int64, error) {
	parts := strings.Split(value, ".")
	if len(parts) != 3 {
		return 0, ErrBadSession
	}
	payload := parts[0] + "." + parts[1]
	if subtle.ConstantTimeCompare([]byte(s.sign(payload)), []byte(parts[2])) != 1 {
		return 0, ErrBadSession
	}
	expires, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || time.Now().Unix() >= expires {
		return 0, ErrBadSession
	}
	userID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, ErrBadSession
	}
	return userID, nil
}

// SetCookie writes the session cookie on a response.
func (s *Sessions) SetCookie(w http.ResponseWriter, userID int64) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    s.Issue(userID),
		Path:     "/",
		MaxAge:   int(sessionLifetime.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func (s *Sessions) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Sessions) sign(payload string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
