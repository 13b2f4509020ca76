package index

import (
	"time"

	"github.com/google/uuid"
)

// Chunk is one indexed slice of a source document.
type Chunk struct {
	ID         uuid.UUID
	DocumentID string
	Position   int // order of the chunk within its document
	Content    string
	CreatedAt  time.Time
}

// Result is a chunk returned by similarity search.
type Result struct {
	Chunk
	Score float32 // cosine similarity, 1.0 is identical
}

// Stats summarizes the indexed corpus.
type Stats struct {
	Chunks    int `json:"chunks"`
	Documents int `json:"documents"`
}

// searchConfig holds resolved search options.
type searchConfig struct {
	topK     int
	minScore float32
	timeout  time.Duration
}

// SearchOption configures a Search call.
type SearchOption func(*searchConfig)

// WithTopK limits the number of results. Values below 1 keep the default.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		if k >= 1 {
			c.topK = k
		}
	}
}

// WithMinScore drops results scoring below the threshold.
func WithMinScore(min float32) SearchOption {
	return func(c *searchConfig) {
		c.minScore = min
	}
}

// WithTimeout bounds the embed plus query time of one search.
func WithTimeout(d time.Duration) SearchOption {
	return func(c *searchConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func buildSearchConfig(opts []SearchOption) searchConfig {
	cfg := searchConfig{
		topK:    5,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
