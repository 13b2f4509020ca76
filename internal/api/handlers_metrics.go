package api

import (
	"net/http"
	"strconv"

	"github.com/storihq/stori-rag/internal/metrics"
)

type rateRequest struct {
	ResponseID string `json:"response_id"`
	Rating     string `json:"rating"`
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body", s.logger)
		return
	}

	if err := s.metrics.Rate(req.ResponseID, metrics.Rating(req.Rating)); err != nil {
		writeMappedError(w, err, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"response_id": req.ResponseID,
		"rating":      req.Rating,
	}, s.logger)
}

// handleSystemMetrics serves the KPI snapshot; window_hours limits the window,
// absent or zero means all time.
func (s *Server) handleSystemMetrics(w http.ResponseWriter, r *http.Request) {
	windowHours := 0
	if raw := r.URL.Query().Get("window_hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_input", "window_hours must be a non-negative integer", s.logger)
			return
		}
		windowHours = n
	}

	writeJSON(w, http.StatusOK, s.metrics.Snapshot(windowHours), s.logger)
}

func (s *Server) handleConversationMetrics(w http.ResponseWriter, r *http.Request) {
	cm, err := s.metrics.Conversation(r.PathValue("id"))
	if err != nil {
		writeMappedError(w, err, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, cm, s.logger)
}

func (s *Server) handleResponseMetrics(w http.ResponseWriter, r *http.Request) {
	rec, err := s.metrics.Response(r.PathValue("id"))
	if err != nil {
		writeMappedError(w, err, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, rec, s.logger)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Export(), s.logger)
}

// handlePurge drops records older than ?days=N; days=0 clears everything.
func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "days query parameter is required", s.logger)
		return
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "days must be a non-negative integer", s.logger)
		return
	}

	purged := s.metrics.PurgeOlderThan(days)
	writeJSON(w, http.StatusOK, map[string]any{
		"purged_count": purged,
		"days":         days,
	}, s.logger)
}
