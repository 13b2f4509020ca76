package config

import (
	"fmt"
	"strings"
)

// validSSLModes are the PostgreSQL SSL modes accepted by pgx.
var validSSLModes = map[string]struct{}{
	"disable":     {},
	"allow":       {},
	"prefer":      {},
	"require":     {},
	"verify-ca":   {},
	"verify-full": {},
}

// Validate checks all configuration values and returns the first violation.
// Errors wrap package sentinels so callers can use errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderGemini, ProviderOllama:
	default:
		return fmt.Errorf("%w: %q (must be %q or %q)",
			ErrInvalidProvider, c.Provider, ProviderGemini, ProviderOllama)
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder model is empty", ErrInvalidModelName)
	}

	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %v (must be 0.0-2.0)", ErrInvalidTemperature, c.Temperature)
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("%w: %d (must be >= 1)", ErrInvalidMaxTokens, c.MaxTokens)
	}

	if c.ProviderTimeoutSeconds < 1 || c.ProviderTimeoutSeconds > 300 {
		return fmt.Errorf("%w: %ds (must be 1-300)", ErrInvalidTimeout, c.ProviderTimeoutSeconds)
	}

	if c.TopK < 1 || c.TopK > 100 {
		return fmt.Errorf("%w: %d (must be 1-100)", ErrInvalidTopK, c.TopK)
	}
	if c.MinRelevance < 0 || c.MinRelevance > 1 {
		return fmt.Errorf("%w: %v (must be 0.0-1.0)", ErrInvalidRelevance, c.MinRelevance)
	}
	if c.HistoryWindow < 0 || c.HistoryWindow > 100 {
		return fmt.Errorf("%w: %d (must be 0-100)", ErrInvalidWindow, c.HistoryWindow)
	}
	if c.SummaryStaleTurns < 1 {
		return fmt.Errorf("%w: summary_stale_turns %d (must be >= 1)", ErrInvalidWindow, c.SummaryStaleTurns)
	}

	if c.ChunkSize < 100 {
		return fmt.Errorf("%w: chunk_size %d (must be >= 100)", ErrInvalidWindow, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap %d (must be 0 <= overlap < chunk_size)", ErrInvalidWindow, c.ChunkOverlap)
	}

	return c.validateStorage()
}

// validateStorage checks the PostgreSQL connection fields.
func (c *Config) validateStorage() error {
	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d (must be 1-65535)", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidPostgresDB)
	}
	if _, ok := validSSLModes[c.PostgresSSLMode]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidSSLMode, c.PostgresSSLMode)
	}
	return nil
}
