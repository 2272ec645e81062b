package server

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/endarthur/holocene-sub000/internal/auth"
	"github.com/endarthur/holocene-sub000/internal/store"
)

const loginSuccessPage = `<!DOCTYPE html>
<html>
<head><title>Logged in</title></head>
<body>
<h1>Logged in</h1>
<p>You are now signed in on this device. You can close this tab.</p>
</body>
</html>
`

const loginFailurePage = `<!DOCTYPE html>
<html>
<head><title>Login failed</title></head>
<body>
<h1>Login failed</h1>
<p>This login link is invalid, expired, or was already used. Request a new one.</p>
</body>
</html>
`

// previewPage is what link-preview crawlers get. It carries no token state and
// never consumes the magic link.
const previewPage = `<!DOCTYPE html>
<html>
<head><title>holocene login</title></head>
<body>
<h1>holocene login</h1>
<p>Open this link in your browser to sign in.</p>
</body>
</html>
`

// handleAuthLogin redeems a magic-link token and establishes a session.
// Messaging apps prefetch URLs to render previews, so known crawler agents
// are served a placeholder without touching the token.
func (s *Server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		s.writeHTML(w, http.StatusBadRequest, loginFailurePage)
		return
	}

	userAgent := r.UserAgent()
	if auth.IsPreviewBot(userAgent) {
		s.logger.Info("Preview bot fetch for magic link (agent %q), not consuming", userAgent)
		s.writeHTML(w, http.StatusOK, previewPage)
		return
	}

	userID, err := s.authSvc.ConsumeMagicLink(r.Context(), token, clientIP(r), userAgent)
	if errors.Is(err, store.ErrNotFound) {
		s.writeHTML(w, http.StatusUnauthorized, loginFailurePage)
		return
	}
	if err != nil {
		s.logger.Error("Magic link redemption failed: %v", err)
		s.writeHTML(w, http.StatusInternalServerError, loginFailurePage)
		return
	}

	s.sessions.SetCookie(w, userID)
	s.logger.Info("User %d logged in via magic link", userID)
	s.writeHTML(w, http.StatusOK, loginSuccessPage)
}

// handleAuthStatus reports whether the caller holds a valid credential.
func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authMW.Authenticate(r)
	if !ok {
		s.writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	resp := map[string]any{"authenticated": true, "user_id": userID}
	if user, err := s.core.Store.GetUser(r.Context(), userID); err == nil {
		resp["username"] = user.TelegramUsername
		resp["is_admin"] = user.IsAdmin
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.ClearCookie(w)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// handleTokenCreate mints a named long-lived bearer token for the caller. The
// raw token appears only in this response.
func (s *Server) handleTokenCreate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	tok, err := s.authSvc.IssueAPIToken(r.Context(), userID, strings.TrimSpace(req.Name))
	if err != nil {
		s.logger.Error("Failed to issue API token: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"id":         tok.ID,
		"name":       tok.Name,
		"token":      tok.Token,
		"created_at": tok.CreatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleTokenList(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	tokens, err := s.core.Store.ListAPITokens(r.Context(), userID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "failed to list tokens")
		return
	}

	out := make([]map[string]any, 0, len(tokens))
	for _, tok := range tokens {
		entry := map[string]any{
			"id":         tok.ID,
			"name":       tok.Name,
			"created_at": tok.CreatedAt.Format(time.RFC3339),
			"revoked":    tok.RevokedAt != nil,
		}
		if tok.LastUsedAt != nil {
			entry["last_used_at"] = tok.LastUsedAt.Format(time.RFC3339)
		}
		out = append(out, entry)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tokens": out})
}

func (s *Server) handleTokenRevoke(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "invalid token id")
		return
	}
	if err := s.authMW.Revoke(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeJSONError(w, http.StatusNotFound, "token not found")
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, "failed to revoke token")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// clientIP strips the port from RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
