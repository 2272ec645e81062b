package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/endarthur/holocene-sub000/internal/archive"
	"github.com/endarthur/holocene-sub000/internal/auth"
	"github.com/endarthur/holocene-sub000/internal/core"
	"github.com/endarthur/holocene-sub000/internal/logging"
	"github.com/endarthur/holocene-sub000/internal/metrics"
	"github.com/endarthur/holocene-sub000/internal/plugin"
)

const defaultPageLimit = 100

// Server is the HTTP/JSON + HTML surface of the daemon.
type Server struct {
	core     *core.Core
	registry *plugin.Registry
	archiver *archive.Service
	authSvc  *auth.Service
	sessions *auth.Sessions
	authMW   *auth.Middleware
	logger   logging.Logger

	httpServer *http.Server
	startedAt  time.Time
}

// New builds the API server and its route table.
func New(c *core.Core, registry *plugin.Registry, archiver *archive.Service, authSvc *auth.Service, sessions *auth.Sessions, authMW *auth.Middleware) *Server {
	s := &Server{
		core:     c,
		registry: registry,
		archiver: archiver,
		authSvc:  authSvc,
		sessions: sessions,
		authMW:   authMW,
		logger:   logging.NewComponentLogger("APIServer"),
	}
	s.httpServer = &http.Server{
		Addr:        c.Config.ListenAddr(),
		Handler:     s.routes(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Unauthenticated surface.
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /auth/login", s.handleAuthLogin)
	mux.HandleFunc("GET /auth/status", s.handleAuthStatus)
	mux.HandleFunc("POST /auth/logout", s.handleAuthLogout)

	// Authenticated surface.
	authed := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.authMW.Require(h))
	}

	authed("GET /plugins", s.handlePluginList)
	authed("GET /plugins/{name}", s.handlePluginGet)
	authed("POST /plugins/{name}/enable", s.handlePluginEnable)
	authed("POST /plugins/{name}/disable", s.handlePluginDisable)

	authed("GET /channels", s.handleChannelList)
	authed("GET /channels/{channel}/history", s.handleChannelHistory)
	authed("POST /channels/{channel}/publish", s.handleChannelPublish)

	authed("GET /links", s.handleLinkList)
	authed("POST /links", s.handleLinkCreate)
	authed("GET /links/{id}", s.handleLinkGet)
	authed("POST /links/{id}/archive", s.handleLinkArchive)
	authed("GET /links/{id}/snapshots", s.handleLinkSnapshots)

	authed("GET /books", s.handleBookList)
	authed("POST /books", s.handleBookCreate)
	authed("GET /books/{id}", s.handleBookGet)
	authed("GET /papers", s.handlePaperList)
	authed("POST /papers", s.handlePaperCreate)
	authed("GET /papers/{id}", s.handlePaperGet)

	authed("POST /tokens", s.handleTokenCreate)
	authed("GET /tokens", s.handleTokenList)
	authed("DELETE /tokens/{id}", s.handleTokenRevoke)

	authed("GET /mono/{id}", s.handleMonoView)
	authed("GET /mono/{id}/{selector}", s.handleMonoView)
	authed("GET /snapshot/{id}", s.handleSnapshotView)
	authed("GET /box/{id}", s.handleBoxView)

	return s.withRecovery(mux)
}

// Start binds the listen address synchronously, so a port conflict surfaces
// to the caller, then serves in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	s.startedAt = time.Now()
	go func() {
		s.logger.Info("API server listening on %s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("API server stopping")
	return s.httpServer.Shutdown(ctx)
}
