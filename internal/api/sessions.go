package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// sessionStats handles GET /api/v1/scribe/sessions/{sessionID}/stats.
// Active sessions answer from the in-memory tracker; ended sessions fall
// back to the store's persisted counts.
func (s *Server) sessionStats(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if snap, ok := s.tracker.Snapshot(sessionID); ok {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
		return
	}

	stats, err := s.gateway.SessionStats(r.Context(), sessionID)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"stats lookup failed: %v"}`, err), http.StatusServiceUnavailable)
		return
	}
	if stats.TotalRequests == 0 {
		http.Error(w, `{"error":"unknown session"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
