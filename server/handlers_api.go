package server

import (
	"encoding/json"
	"net/http"

	"github.com/onnwee/stream-pulse/db"
)

// HandleLiveMetrics returns the current in-memory metrics snapshot consumed
// by the dashboard.
func (h *Handlers) HandleLiveMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.deps.Live.Snapshot())
}

// HandleSessions returns recent stream sessions, newest first. Accepts
// ?limit=N (default 50, capped at 200).
func (h *Handlers) HandleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := parseIntQuery(r, "limit", 50)
	sessions, err := db.ListSessions(r.Context(), h.deps.DB, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = make([]db.StreamSession, 0)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sessions)
}
