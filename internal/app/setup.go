package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/tracing"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/storihq/stori-rag/db"
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

// Setup creates and initializes the application. Call Close on the returned
// App to release its resources.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}

	a := &App{Config: cfg, Logger: logger}

	// On error, release everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, dbCleanup, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.Pool = pool

	g, model, embedder, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g
	a.Embedder = embedder

	a.Index, err = index.New(pool, embedder, logger)
	if err != nil {
		return nil, fmt.Errorf("creating chunk index: %w", err)
	}

	a.Splitter, err = ingest.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("creating splitter: %w", err)
	}

	a.Provider, err = provider.New(g, provider.Config{
		Model:       model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     time.Duration(cfg.ProviderTimeoutSeconds) * time.Second,
		RateLimit:   cfg.ProviderRateLimit,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating provider client: %w", err)
	}

	a.Memory = memory.New(a.Provider, cfg.SummaryStaleTurns, logger)
	a.Metrics = metrics.NewRecorder(logger)

	a.Tools, err = tools.NewDefaultRegistry(a.Memory, a.Provider, a.Provider, a.Memory, logger)
	if err != nil {
		return nil, fmt.Errorf("creating tool registry: %w", err)
	}

	a.Orchestrator, err = orchestrator.New(a.Provider, a.Index, a.Memory, a.Tools, a.Metrics,
		orchestrator.Config{
			TopK:          cfg.TopK,
			MinRelevance:  cfg.MinRelevance,
			HistoryWindow: cfg.HistoryWindow,
		}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}

	a.Server, err = api.New(api.Config{
		Assistant:   a.Orchestrator,
		Metrics:     a.Metrics,
		Index:       a.Index,
		Splitter:    a.Splitter,
		DB:          pool,
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
		RateBurst:   cfg.RateBurst,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating HTTP server: %w", err)
	}

	return a, nil
}

// provideOtelShutdown exports traces over OTLP HTTP when an endpoint is
// configured. An empty endpoint disables tracing; the returned cleanup is
// always safe to call.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	if cfg.OTLPEndpoint == "" {
		return func() {}
	}

	// Genkit's TracerProvider reads these during span creation.
	// SAFETY: os.Setenv is not concurrent-safe, but Setup runs exactly once
	// during startup before goroutines are spawned.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating trace exporter, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("trace export enabled",
		"endpoint", cfg.OTLPEndpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	shutdown := tracing.TracerProvider().Shutdown

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool runs migrations and opens the PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresURL())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, pool.Close, nil
}

// provideGenkit initializes Genkit with the configured AI provider and
// resolves the generation model and the embedder.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, ai.Model, ai.Embedder, error) {
	var (
		g        *genkit.Genkit
		model    ai.Model
		embedder ai.Embedder
	)

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, nil, nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit registration, there is no auto-discovery.
		model = ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		embedder = ollama.Embedder(g, cfg.OllamaHost)
		logger.Info("initialized genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	default: // gemini
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, nil, nil, errors.New("initializing genkit with gemini provider")
		}
		model = genkit.LookupModel(g, "googleai/"+cfg.ModelName)
		embedder = googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
		logger.Info("initialized genkit with gemini provider", "model", cfg.ModelName)
	}

	if model == nil {
		return nil, nil, nil, fmt.Errorf("model %q not found for provider %q", cfg.ModelName, cfg.Provider)
	}
	if embedder == nil {
		return nil, nil, nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}

	return g, model, embedder, nil
}
