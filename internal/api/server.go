// Package api exposes the assistant over HTTP: the chat endpoint,
// conversation management, metrics, and corpus administration.
package api

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/storihq/stori-rag/internal/index"
	"github.com/storihq/stori-rag/internal/log"
	"github.com/storihq/stori-rag/internal/memory"
	"github.com/storihq/stori-rag/internal/metrics"
	"github.com/storihq/stori-rag/internal/orchestrator"
	"github.com/storihq/stori-rag/internal/tools"
)

// Assistant is the conversational surface the server fronts.
type Assistant interface {
	HandleMessage(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error)
	History(conversationID string) ([]memory.Turn, error)
	List() []memory.Info
	Delete(conversationID string) error
	Summarize(ctx context.Context, conversationID string) (string, error)
	Classify(ctx context.Context, message string) (tools.Result, error)
	Escalate(ctx context.Context, conversationID, reason string) (tools.Result, error)
}

// MetricsStore serves the analytics endpoints.
type MetricsStore interface {
	Rate(responseID string, rating metrics.Rating) error
	Snapshot(windowHours int) metrics.Snapshot
	Conversation(conversationID string) (metrics.ConversationMetrics, error)
	Response(responseID string) (metrics.ResponseRecord, error)
	Export() metrics.Export
	PurgeOlderThan(days int) int
}

// Indexer manages the retrieval corpus.
type Indexer interface {
	IndexDocument(ctx context.Context, documentID string, chunks []string) (int, error)
	DeleteDocument(ctx context.Context, documentID string) error
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (index.Stats, error)
}

// Splitter breaks document text into indexable chunks.
type Splitter interface {
	Split(text string) []string
}

// Pinger reports database reachability for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config carries the server's dependencies and HTTP settings.
type Config struct {
	Assistant Assistant
	Metrics   MetricsStore
	Index     Indexer
	Splitter  Splitter
	DB        Pinger

	CORSOrigins []string
	TrustProxy  bool
	RateLimit   float64 // tokens per second per client, default 1
	RateBurst   int     // bucket size per client, default 60

	Logger log.Logger
}

// Server is the HTTP surface. Build it with New and mount it directly.
type Server struct {
	assistant Assistant
	metrics   MetricsStore
	index     Indexer
	splitter  Splitter
	db        Pinger
	logger    log.Logger

	handler http.Handler
}

// New builds the server. The middleware chain wraps the /api/v1 routes in
// order Recovery, RequestID, Logging, CORS, RateLimit; the health probes
// stay outside the chain so monitors are never rate limited.
func New(cfg Config) (*Server, error) {
	switch {
	case cfg.Assistant == nil:
		return nil, errors.New("assistant is required")
	case cfg.Metrics == nil:
		return nil, errors.New("metrics store is required")
	case cfg.Index == nil:
		return nil, errors.New("indexer is required")
	case cfg.Splitter == nil:
		return nil, errors.New("splitter is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 60
	}

	s := &Server{
		assistant: cfg.Assistant,
		metrics:   cfg.Metrics,
		index:     cfg.Index,
		splitter:  cfg.Splitter,
		db:        cfg.DB,
		logger:    cfg.Logger.With("component", "api"),
	}

	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/chat", s.handleChat)
	api.HandleFunc("GET /api/v1/conversations", s.handleListConversations)
	api.HandleFunc("GET /api/v1/conversations/{id}/history", s.handleHistory)
	api.HandleFunc("DELETE /api/v1/conversations/{id}", s.handleDeleteConversation)
	api.HandleFunc("POST /api/v1/conversations/{id}/summary", s.handleSummary)
	api.HandleFunc("POST /api/v1/intent/classify", s.handleClassify)
	api.HandleFunc("POST /api/v1/escalate", s.handleEscalate)

	api.HandleFunc("POST /api/v1/metrics/rate", s.handleRate)
	api.HandleFunc("GET /api/v1/metrics/system", s.handleSystemMetrics)
	api.HandleFunc("GET /api/v1/metrics/conversations/{id}", s.handleConversationMetrics)
	api.HandleFunc("GET /api/v1/metrics/responses/{id}", s.handleResponseMetrics)
	api.HandleFunc("GET /api/v1/metrics/export", s.handleExport)
	api.HandleFunc("DELETE /api/v1/metrics/old", s.handlePurge)

	api.HandleFunc("POST /api/v1/documents", s.handleIndexDocument)
	api.HandleFunc("DELETE /api/v1/documents", s.handleClearDocuments)
	api.HandleFunc("DELETE /api/v1/documents/{id}", s.handleDeleteDocument)
	api.HandleFunc("GET /api/v1/documents/stats", s.handleIndexStats)

	limiter := newRateLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)

	var chained http.Handler = api
	for _, mw := range []func(http.Handler) http.Handler{
		rateLimitMiddleware(limiter, cfg.TrustProxy, s.logger),
		corsMiddleware(cfg.CORSOrigins),
		loggingMiddleware(s.logger),
		requestIDMiddleware(),
		recoveryMiddleware(s.logger),
	} {
		chained = mw(chained)
	}

	root := http.NewServeMux()
	root.HandleFunc("GET /health", s.handleHealth)
	root.HandleFunc("GET /ready", s.handleReady)
	root.Handle("/api/v1/", chained)
	s.handler = root

	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"}, s.logger)
}

// handleReady reports 503 until the database answers a ping.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness probe failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "not_ready", "database unreachable", s.logger)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, s.logger)
}
