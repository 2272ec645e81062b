package server

import (
	"net/http"
	"strconv"
)

func (s *Server) handleChannelList(w http.ResponseWriter, r *http.Request) {
	channels := s.core.Bus.Channels()
	out := make([]map[string]any, 0, len(channels))
	for _, ch := range channels {
		out = append(out, map[string]any{
			"name":        ch,
			"subscribers": s.core.Bus.SubscriberCount(ch),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"channels": out})
}

func (s *Server) handleChannelHistory(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	limit := 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"channel":  channel,
		"messages": s.core.Bus.History(channel, limit),
	})
}

// handleChannelPublish injects a message onto the bus on behalf of an external
// caller. Handlers run synchronously, so the publish has completed delivery by
// the time the response is written.
func (s *Server) handleChannelPublish(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")

	var req struct {
		Data   map[string]any `json:"data"`
		Sender string         `json:"sender"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	sender := req.Sender
	if sender == "" {
		sender = "api"
	}

	msg := s.core.Bus.Publish(channel, req.Data, sender)
	s.writeJSON(w, http.StatusOK, map[string]any{"published": msg})
}
