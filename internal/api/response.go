package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/storihq/stori-rag/internal/index"
	"github.com/storihq/stori-rag/internal/log"
	"github.com/storihq/stori-rag/internal/metrics"
	"github.com/storihq/stori-rag/internal/orchestrator"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeJSON encodes into a buffer first so headers are only sent after a
// successful encode.
func writeJSON(w http.ResponseWriter, status int, data any, logger log.Logger) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		logger.Error("encode response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are common here.
		logger.Debug("write response body", "error", err)
	}
}

// writeError writes the error envelope.
func writeError(w http.ResponseWriter, status int, code, message string, logger log.Logger) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body, logger)
}

// writeMappedError translates domain sentinels onto HTTP statuses. Anything
// unrecognized is a 500 with a generic message.
func writeMappedError(w http.ResponseWriter, err error, logger log.Logger) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidInput),
		errors.Is(err, metrics.ErrInvalidRating):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), logger)
	case errors.Is(err, orchestrator.ErrNotFound),
		errors.Is(err, metrics.ErrResponseNotFound),
		errors.Is(err, index.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), logger)
	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", logger)
	}
}

// decodeJSON parses a request body, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
