// Package app assembles the assistant: configuration, tracing, the database
// pool, the Genkit instance, and every service behind the HTTP surface.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storihq/stori-rag/internal/api"
	"github.com/storihq/stori-rag/internal/config"
	"github.com/storihq/stori-rag/internal/index"
	"github.com/storihq/stori-rag/internal/ingest"
	"github.com/storihq/stori-rag/internal/log"
	"github.com/storihq/stori-rag/internal/memory"
	"github.com/storihq/stori-rag/internal/metrics"
	"github.com/storihq/stori-rag/internal/orchestrator"
	"github.com/storihq/stori-rag/internal/provider"
	"github.com/storihq/stori-rag/internal/tools"
)

// App holds the assembled application. Build it with Setup and release with
// Close.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder

	Pool         *pgxpool.Pool
	Index        *index.Store
	Splitter     *ingest.Splitter
	Memory       *memory.Store
	Provider     *provider.Client
	Tools        *tools.Registry
	Metrics      *metrics.Recorder
	Orchestrator *orchestrator.Orchestrator
	Server       *api.Server

	dbCleanup   func()
	otelCleanup func()
}

// Close releases everything Setup acquired. Safe to call on a partially
// initialized App.
func (a *App) Close() error {
	if a.dbCleanup != nil {
		a.dbCleanup()
		a.dbCleanup = nil
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
		a.otelCleanup = nil
	}
	slog.Debug("application closed")
	return nil
}
