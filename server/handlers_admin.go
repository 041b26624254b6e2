package server

import (
	"encoding/json"
	"net/http"
)

// HandleAdminFlush forces every batch buffer to flush to the sink. Useful
// before maintenance and when verifying storage wiring.
func (h *Handlers) HandleAdminFlush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.deps.Buffers.FlushAll(r.Context()); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}

// HandleAdminReport generates the daily report on demand instead of waiting
// for the scheduled run.
func (h *Handlers) HandleAdminReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Reporter == nil {
		http.Error(w, "reporter not configured", http.StatusServiceUnavailable)
		return
	}
	if err := h.deps.Reporter.GenerateDailyReport(r.Context()); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}

// HandleAdminClips runs clip analysis on demand.
func (h *Handlers) HandleAdminClips(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Clips == nil {
		http.Error(w, "clip analyzer not configured", http.StatusServiceUnavailable)
		return
	}
	if err := h.deps.Clips.AnalyzeTopClips(r.Context()); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}
