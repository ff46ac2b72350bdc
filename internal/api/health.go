package api

import (
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleHealthz answers 200 while the journal database is reachable.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if _, _, err := s.journal.List(r.Context(), "", 1, 0); err != nil {
		s.logger.Error("health check", "error", err)
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Error: "journal unavailable"})
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
