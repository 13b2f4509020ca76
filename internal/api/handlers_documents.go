package api

import (
	"net/http"
	"strings"
)

type indexDocumentRequest struct {
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
}

// handleIndexDocument splits and indexes one document. Re-submitting a
// document ID replaces its chunks.
func (s *Server) handleIndexDocument(w http.ResponseWriter, r *http.Request) {
	var req indexDocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body", s.logger)
		return
	}
	req.DocumentID = strings.TrimSpace(req.DocumentID)
	if req.DocumentID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "document_id is required", s.logger)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "content is required", s.logger)
		return
	}

	chunks := s.splitter.Split(req.Content)
	indexed, err := s.index.IndexDocument(r.Context(), req.DocumentID, chunks)
	if err != nil {
		writeMappedError(w, err, s.logger)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"document_id":    req.DocumentID,
		"chunks_indexed": indexed,
	}, s.logger)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.index.DeleteDocument(r.Context(), id); err != nil {
		writeMappedError(w, err, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document_id": id,
		"deleted":     true,
	}, s.logger)
}

// handleClearDocuments drops the whole corpus.
func (s *Server) handleClearDocuments(w http.ResponseWriter, r *http.Request) {
	if err := s.index.Clear(r.Context()); err != nil {
		writeMappedError(w, err, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true}, s.logger)
}

func (s *Server) handleIndexStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.index.Stats(r.Context())
	if err != nil {
		writeMappedError(w, err, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, stats, s.logger)
}
