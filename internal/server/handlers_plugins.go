package server

import "net/http"

func (s *Server) pluginPayload(name string) (map[string]any, bool) {
	info, ok := s.registry.PluginInfo(name)
	if !ok {
		return nil, false
	}
	state, _ := s.registry.PluginState(name)
	return map[string]any{
		"name":        info.Name,
		"version":     info.Version,
		"description": info.Description,
		"runs_on":     info.RunsOn,
		"requires":    info.Requires,
		"state":       state,
	}, true
}

func (s *Server) handlePluginList(w http.ResponseWriter, r *http.Request) {
	out := []map[string]any{}
	for _, name := range s.registry.PluginNames() {
		if p, ok := s.pluginPayload(name); ok {
			out = append(out, p)
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"plugins": out})
}

func (s *Server) handlePluginGet(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pluginPayload(r.PathValue("name"))
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "plugin not found")
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePluginEnable(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.registry.Enable(name); err != nil {
		s.writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	p, _ := s.pluginPayload(name)
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePluginDisable(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.registry.Disable(name); err != nil {
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	p, _ := s.pluginPayload(name)
	s.writeJSON(w, http.StatusOK, p)
}
