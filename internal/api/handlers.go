package api

import (
	"net/http"
	"strings"

	"github.com/storihq/stori-rag/internal/orchestrator"
	"github.com/storihq/stori-rag/internal/tools"
)

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	UseTools       *bool  `json:"use_tools"` // defaults to true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body", s.logger)
		return
	}

	useTools := true
	if req.UseTools != nil {
		useTools = *req.UseTools
	}

	resp, err := s.assistant.HandleMessage(r.Context(), orchestrator.Request{
		Message:        req.Message,
		ConversationID: req.ConversationID,
		UseTools:       useTools,
	})
	if err != nil {
		writeMappedError(w, err, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, resp, s.logger)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	infos := s.assistant.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": infos,
		"total":         len(infos),
	}, s.logger)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	turns, err := s.assistant.History(id)
	if err != nil {
		writeMappedError(w, err, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"messages":        turns,
		"total_messages":  len(turns),
	}, s.logger)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.assistant.Delete(id); err != nil {
		writeMappedError(w, err, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"deleted":         true,
	}, s.logger)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	summary, err := s.assistant.Summarize(r.Context(), id)
	if err != nil {
		writeMappedError(w, err, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"summary":         summary,
	}, s.logger)
}

type classifyRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body", s.logger)
		return
	}

	res, err := s.assistant.Classify(r.Context(), strings.TrimSpace(req.Message))
	if err != nil {
		writeMappedError(w, err, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"intent":     res.Meta[tools.MetaIntent],
		"confidence": res.Confidence,
		"entities":   splitMeta(res.Meta[tools.MetaEntities]),
	}, s.logger)
}

type escalateRequest struct {
	ConversationID string `json:"conversation_id"`
	Reason         string `json:"reason"`
	Priority       string `json:"priority"` // defaults to medium
}

func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	var req escalateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body", s.logger)
		return
	}

	if req.Priority == "" {
		req.Priority = "medium"
	}

	res, err := s.assistant.Escalate(r.Context(), req.ConversationID, req.Reason)
	if err != nil {
		writeMappedError(w, err, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": req.ConversationID,
		"escalation_id":   res.Meta[tools.MetaEscalationID],
		"created":         res.Meta[tools.MetaCreated] == "true",
		"priority":        req.Priority,
		"message":         res.Output,
	}, s.logger)
}

// splitMeta turns a comma-joined meta value back into a slice; an empty value
// yields an empty slice so JSON clients never see null.
func splitMeta(v string) []string {
	if v == "" {
		return []string{}
	}
	return strings.Split(v, ",")
}
