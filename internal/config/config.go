// Package config provides application configuration with multi-source priority.
//
// Sources (highest to lowest):
//  1. Environment variables (STORI_* prefix)
//  2. Config file (~/.stori/config.yaml)
//  3. Built-in defaults
//
// Categories:
//   - AI: provider, model, embedder, temperature, max tokens
//   - Retrieval: top-k, minimum relevance, history window, summary staleness
//   - Storage: PostgreSQL connection for the chunk index
//   - Serve: listen address, CORS, rate limiting
//   - Observability: OTLP trace export endpoint
//
// Sensitive fields (passwords) are masked in MarshalJSON and never logged.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Sentinel errors for configuration validation, checked with errors.Is().
var (
	ErrConfigNil           = errors.New("configuration is nil")
	ErrInvalidProvider     = errors.New("invalid provider")
	ErrInvalidModelName    = errors.New("invalid model name")
	ErrInvalidTemperature  = errors.New("invalid temperature")
	ErrInvalidMaxTokens    = errors.New("invalid max tokens")
	ErrInvalidTopK         = errors.New("invalid top-k")
	ErrInvalidRelevance    = errors.New("invalid relevance threshold")
	ErrInvalidWindow       = errors.New("invalid history window")
	ErrInvalidTimeout      = errors.New("invalid provider timeout")
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")
	ErrInvalidPostgresDB   = errors.New("invalid PostgreSQL database name")
	ErrInvalidSSLMode      = errors.New("invalid PostgreSQL SSL mode")
)

// Provider identifiers accepted in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// Config stores the application configuration.
type Config struct {
	// AI provider and model configuration
	Provider      string  `mapstructure:"provider" json:"provider"`
	ModelName     string  `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string  `mapstructure:"embedder_model" json:"embedder_model"`
	Temperature   float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens" json:"max_tokens"`
	OllamaHost    string  `mapstructure:"ollama_host" json:"ollama_host"`

	// Provider call limits
	ProviderTimeoutSeconds int     `mapstructure:"provider_timeout_seconds" json:"provider_timeout_seconds"`
	ProviderRateLimit      float64 `mapstructure:"provider_rate_limit" json:"provider_rate_limit"`

	// Retrieval and conversation policy
	TopK              int     `mapstructure:"top_k" json:"top_k"`
	MinRelevance      float32 `mapstructure:"min_relevance" json:"min_relevance"`
	HistoryWindow     int     `mapstructure:"history_window" json:"history_window"`
	SummaryStaleTurns int     `mapstructure:"summary_stale_turns" json:"summary_stale_turns"`

	// Document chunking
	ChunkSize    int `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`

	// Storage configuration (chunk index)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Serve configuration
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Observability (optional; empty endpoint disables tracing)
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
	Environment  string `mapstructure:"environment" json:"environment"`
}

// MarshalJSON masks sensitive fields. When adding new secrets to Config,
// extend this method.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config
	masked := alias(*c)
	if masked.PostgresPassword != "" {
		masked.PostgresPassword = "********"
	}
	b, err := json.Marshal(masked)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return b, nil
}

// setDefaults registers built-in defaults on the given viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("embedder_model", "gemini-embedding-001")
	v.SetDefault("temperature", 0.2)
	v.SetDefault("max_tokens", 1024)
	v.SetDefault("ollama_host", "http://localhost:11434")

	v.SetDefault("provider_timeout_seconds", 30)
	v.SetDefault("provider_rate_limit", 2.0)

	v.SetDefault("top_k", 5)
	v.SetDefault("min_relevance", 0.35)
	v.SetDefault("history_window", 6)
	v.SetDefault("summary_stale_turns", 10)

	v.SetDefault("chunk_size", 1000)
	v.SetDefault("chunk_overlap", 200)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "stori")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_db_name", "stori")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("cors_origins", []string{})
	v.SetDefault("trust_proxy", false)
	v.SetDefault("rate_burst", 60)

	v.SetDefault("otlp_endpoint", "")
	v.SetDefault("service_name", "stori-rag")
	v.SetDefault("environment", "dev")
}

// Load reads configuration from defaults, the optional config file, and
// STORI_* environment variables, then validates the result.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".stori"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("STORI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults plus env are sufficient.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// PostgresURL builds a postgres:// connection URL from the storage fields.
// The password is URL-escaped.
func (c *Config) PostgresURL() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:   "/" + c.PostgresDBName,
	}
	if c.PostgresUser != "" {
		if c.PostgresPassword != "" {
			u.User = url.UserPassword(c.PostgresUser, c.PostgresPassword)
		} else {
			u.User = url.User(c.PostgresUser)
		}
	}
	q := url.Values{}
	q.Set("sslmode", c.PostgresSSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
