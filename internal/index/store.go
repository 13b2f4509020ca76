// Package index stores corpus chunks in PostgreSQL and retrieves them by
// vector similarity. Embeddings are generated through a Genkit embedder;
// similarity is cosine, computed by pgvector.
package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/storihq/stori-rag/internal/log"
)

// ErrDocumentNotFound indicates the document has no indexed chunks.
var ErrDocumentNotFound = errors.New("document not found in index")

// DB is the subset of pgxpool.Pool the store uses. Consumer-defined so tests
// can substitute a stub without a live database.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store manages the chunk index. Safe for concurrent use.
type Store struct {
	db       DB
	embedder ai.Embedder
	logger   log.Logger
}

// New creates a chunk store. logger may be nil.
func New(db DB, embedder ai.Embedder, logger log.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{
		db:       db,
		embedder: embedder,
		logger:   logger.With("component", "index"),
	}, nil
}

// IndexDocument replaces the indexed chunks of a document. Chunks are
// embedded in one batch request and written in a single transaction, so a
// partial failure never leaves a half-indexed document behind.
func (s *Store) IndexDocument(ctx context.Context, documentID string, chunks []string) (int, error) {
	if documentID == "" {
		return 0, errors.New("document id is required")
	}
	if len(chunks) == 0 {
		return 0, errors.New("no chunks to index")
	}

	vectors, err := s.embedBatch(ctx, chunks)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM corpus_chunks WHERE document_id = $1`, documentID); err != nil {
		return 0, fmt.Errorf("clear previous chunks: %w", err)
	}

	for i, content := range chunks {
		if _, err := tx.Exec(ctx,
			`INSERT INTO corpus_chunks (document_id, chunk_index, content, embedding)
			 VALUES ($1, $2, $3, $4)`,
			documentID, i, content, pgvector.NewVector(vectors[i])); err != nil {
			return 0, fmt.Errorf("insert chunk %d of %q: %w", i, documentID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	s.logger.Info("indexed document", "document_id", documentID, "chunks", len(chunks))
	return len(chunks), nil
}

// Search returns the chunks most similar to the query, ordered by descending
// similarity. Results below the configured minimum score are dropped.
func (s *Store) Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	if query == "" {
		return nil, errors.New("query is required")
	}
	cfg := buildSearchConfig(opts)

	queryCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	vectors, err := s.embedBatch(queryCtx, []string{query})
	if err != nil {
		return nil, err
	}
	queryVec := pgvector.NewVector(vectors[0])

	rows, err := s.db.Query(queryCtx,
		`SELECT id, document_id, chunk_index, content, created_at,
		        1 - (embedding <=> $1) AS score
		 FROM corpus_chunks
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		queryVec, cfg.topK)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("search timeout: %w", err)
		}
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.Position, &r.Content, &r.CreatedAt, &r.Score); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		if r.Score < cfg.minScore {
			continue
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}

	s.logger.Debug("search complete", "results", len(results), "top_k", cfg.topK)
	return results, nil
}

// DeleteDocument removes all chunks of a document. Returns
// ErrDocumentNotFound when nothing was indexed under the ID.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM corpus_chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document %q: %w", documentID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", ErrDocumentNotFound, documentID)
	}

	s.logger.Info("deleted document", "document_id", documentID, "chunks", tag.RowsAffected())
	return nil
}

// Clear drops every chunk in the index.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM corpus_chunks`); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	s.logger.Info("cleared index")
	return nil
}

// Stats reports chunk and document counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT document_id) FROM corpus_chunks`).
		Scan(&st.Chunks, &st.Documents)
	if err != nil {
		return Stats{}, fmt.Errorf("index stats: %w", err)
	}
	return st, nil
}

// embedBatch embeds texts in a single request and returns vectors in input
// order.
func (s *Store) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	docs := make([]*ai.Document, 0, len(texts))
	for _, t := range texts {
		docs = append(docs, &ai.Document{
			Content: []*ai.Part{ai.NewTextPart(t)},
		})
	}

	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		return nil, fmt.Errorf("generate embeddings: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs",
			len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if len(emb.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding for input %d", i)
		}
		vectors[i] = emb.Embedding
	}
	return vectors, nil
}
