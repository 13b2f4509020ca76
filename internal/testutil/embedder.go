package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// EmbeddingDim is the vector width produced by MockEmbedder. It matches the
// corpus_chunks schema so the mock can back integration tests against a real
// pgvector instance.
const EmbeddingDim = 768

// MockEmbedder produces deterministic embeddings derived from the input text.
// Identical texts always map to the same unit vector, so similarity ordering
// is stable across test runs without a real embedding model.
type MockEmbedder struct {
	mu    sync.Mutex
	cache map[string][]float32
	calls atomic.Int64
}

// NewMockEmbedder creates an empty mock embedder.
func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{cache: make(map[string][]float32)}
}

// Calls returns how many embed requests were served.
func (e *MockEmbedder) Calls() int64 {
	return e.calls.Load()
}

// Register registers the mock as a Genkit embedder named "mock/test-embedder".
func (e *MockEmbedder) Register(g *genkit.Genkit) ai.Embedder {
	return genkit.DefineEmbedder(g, "mock/test-embedder", &ai.EmbedderOptions{
		Label:      "Mock Test Embedder",
		Dimensions: EmbeddingDim,
	}, e.embed)
}

func (e *MockEmbedder) embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	e.calls.Add(1)

	resp := &ai.EmbedResponse{}
	for _, doc := range req.Input {
		var text string
		for _, part := range doc.Content {
			text += part.Text
		}
		resp.Embeddings = append(resp.Embeddings, &ai.Embedding{
			Embedding: e.vector(text),
		})
	}
	return resp, nil
}

// vector derives a unit vector from the text. Each 4-float block is seeded
// from a SHA-256 of the text plus the block index, then the whole vector is
// normalized.
func (e *MockEmbedder) vector(text string) []float32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if v, ok := e.cache[text]; ok {
		return v
	}

	v := make([]float32, EmbeddingDim)
	var norm float64
	for block := 0; block < EmbeddingDim/8; block++ {
		sum := sha256.Sum256(append([]byte(text), byte(block), byte(block>>8)))
		for j := 0; j < 8; j++ {
			bits := binary.BigEndian.Uint32(sum[j*4 : j*4+4])
			// Map to [-1, 1).
			f := float64(int64(bits)-math.MaxInt32) / math.MaxInt32
			v[block*8+j] = float32(f)
			norm += f * f
		}
	}

	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}

	e.cache[text] = v
	return v
}
