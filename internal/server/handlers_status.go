package server

import (
	"net/http"
	"time"
)

const indexPage = `<!DOCTYPE html>
<html>
<head><title>holod</title></head>
<body>
<h1>holod</h1>
<p>holocene daemon is running.</p>
<ul>
<li><a href="/health">health</a></li>
<li><a href="/status">status</a></li>
<li><a href="/metrics">metrics</a></li>
</ul>
</body>
</html>
`

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.writeHTML(w, http.StatusOK, indexPage)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus reports daemon uptime, plugin states, bus channels and store
// counts on one unauthenticated endpoint.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	plugins := map[string]string{}
	for _, name := range s.registry.PluginNames() {
		if state, ok := s.registry.PluginState(name); ok {
			plugins[name] = state
		}
	}

	linkCount, err := s.core.Store.CountLinks(ctx)
	if err != nil {
		s.logger.Warn("Status: link count unavailable: %v", err)
	}
	health, err := s.core.Store.LinkHealthStats(ctx)
	if err != nil {
		s.logger.Warn("Status: health stats unavailable: %v", err)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "running",
		"device":         s.core.Config.Device,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"plugins":        plugins,
		"channels":       s.core.Bus.Channels(),
		"links":          linkCount,
		"link_health":    health,
	})
}
