// Package postgres stores one row per chunk in a pgvector-enabled Postgres
// table and delegates similarity search to a server-side SQL function.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"pdfrag/internal/domain"
	"pdfrag/internal/vectorstore"
)

const (
	DefaultTable          = "pdf_chunks"
	DefaultSearchFunction = "search_pdf_chunks"

	codeUndefinedFunction = "42883"
	codeUndefinedTable    = "42P01"
	codeDataException     = "22000"

	// noFloor is below every cosine similarity pgvector can return.
	noFloor = -2.0
)

type Config struct {
	Table          string
	SearchFunction string
	// Dimension pins the embedding width; 0 learns it from the first insert.
	Dimension int
	// Timeout bounds every statement.
	Timeout time.Duration
}

// Storage is a chunk store backed by Postgres + pgvector.
type Storage struct {
	db      *sqlx.DB
	table   string
	fn      string
	dim     int
	guard   *vectorstore.DimensionGuard
	timeout time.Duration
}

// Open connects with lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string, cfg Config) (*Storage, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty postgres dsn", vectorstore.ErrStoreUnavailable)
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vectorstore.ErrStoreUnavailable, err)
	}
	s := New(db, cfg)
	pctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping: %w", vectorstore.ErrStoreUnavailable, err)
	}
	return s, nil
}

// New wraps an existing connection pool.
func New(db *sqlx.DB, cfg Config) *Storage {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.SearchFunction == "" {
		cfg.SearchFunction = DefaultSearchFunction
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Storage{
		db:      db,
		table:   pq.QuoteIdentifier(cfg.Table),
		fn:      pq.QuoteIdentifier(cfg.SearchFunction),
		dim:     cfg.Dimension,
		guard:   vectorstore.NewDimensionGuard(cfg.Dimension),
		timeout: cfg.Timeout,
	}
}

// Close releases the connection pool.
func (s *Storage) Close() error { return s.db.Close() }

// EnsureSchema creates the vector extension, the chunk table and the search
// function if they do not exist yet.
func (s *Storage) EnsureSchema(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("ensure schema: dimension must be positive")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table, dimension),
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s(query_embedding vector(%d), match_threshold float, match_count int)
		RETURNS TABLE (id bigint, content text, metadata jsonb, similarity float)
		LANGUAGE sql STABLE AS $$
			SELECT t.id, t.content, t.metadata, 1 - (t.embedding <=> query_embedding) AS similarity
			FROM %s t
			WHERE 1 - (t.embedding <=> query_embedding) >= match_threshold
			ORDER BY t.embedding <=> query_embedding, t.id
			LIMIT match_count
		$$`, s.fn, dimension, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: ensure schema: %w", vectorstore.ErrStoreUnavailable, err)
		}
	}
	s.guard.Set(dimension)
	s.dim = dimension
	return nil
}

func (s *Storage) Insert(ctx context.Context, content string, embedding []float32, metadata map[string]any) (int64, error) {
	if err := vectorstore.ValidateInsert(s.guard, content, embedding); err != nil {
		return 0, err
	}
	meta, err := vectorstore.EncodeMetadata(metadata)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", vectorstore.ErrInsertFailed, err)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`INSERT INTO %s (content, embedding, metadata) VALUES ($1, $2::vector, $3::jsonb) RETURNING id`, s.table)
	var id int64
	if err := s.db.QueryRowxContext(ctx, query, content, pgvector.NewVector(embedding), meta).Scan(&id); err != nil {
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == codeDataException && strings.Contains(pgErr.Message, "dimensions") {
			return 0, fmt.Errorf("%w: %s", vectorstore.ErrDimensionMismatch, pgErr.Message)
		}
		return 0, fmt.Errorf("%w: %w", vectorstore.ErrInsertFailed, err)
	}
	return id, nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var n int
	if err := s.db.GetContext(ctx, &n, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)); err != nil {
		return 0, fmt.Errorf("%w: count: %w", vectorstore.ErrStoreUnavailable, err)
	}
	return n, nil
}

type chunkRow struct {
	ID        int64           `db:"id"`
	Content   string          `db:"content"`
	Embedding pgvector.Vector `db:"embedding"`
	Metadata  string          `db:"metadata"`
}

func (s *Storage) FetchAll(ctx context.Context) ([]domain.Chunk, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	query := fmt.Sprintf(`SELECT id, content, embedding, metadata::text AS metadata FROM %s ORDER BY id`, s.table)
	var rows []chunkRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("%w: fetch all: %w", vectorstore.ErrStoreUnavailable, err)
	}
	out := make([]domain.Chunk, 0, len(rows))
	for _, r := range rows {
		meta, err := vectorstore.DecodeMetadata(r.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %w", vectorstore.ErrStoreUnavailable, r.ID, err)
		}
		out = append(out, domain.Chunk{ID: r.ID, Content: r.Content, Embedding: r.Embedding.Slice(), Metadata: meta})
	}
	return out, nil
}

type matchRow struct {
	ID         int64   `db:"id"`
	Content    string  `db:"content"`
	Metadata   string  `db:"metadata"`
	Similarity float64 `db:"similarity"`
}

// Search calls the server-side search function. Rows come back in the
// order the function returns them. A missing function yields
// vectorstore.ErrSearchUnsupported. vectorstore.NoThreshold disables the
// similarity floor.
func (s *Storage) Search(ctx context.Context, query []float32, k int, threshold float64) ([]domain.SearchResult, error) {
	if k <= 0 {
		k = 5
	}
	switch {
	case math.IsInf(threshold, -1):
		threshold = noFloor
	case threshold < 0:
		threshold = vectorstore.DefaultLocalThreshold
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	stmt := fmt.Sprintf(`SELECT id, content, metadata::text AS metadata, similarity FROM %s($1::vector, $2, $3)`, s.fn)
	var rows []matchRow
	if err := s.db.SelectContext(ctx, &rows, stmt, pgvector.NewVector(query), threshold, k); err != nil {
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && (pgErr.Code == codeUndefinedFunction || pgErr.Code == codeUndefinedTable) {
			return nil, fmt.Errorf("%w: %s", vectorstore.ErrSearchUnsupported, pgErr.Message)
		}
		return nil, fmt.Errorf("%w: search: %w", vectorstore.ErrStoreUnavailable, err)
	}
	out := make([]domain.SearchResult, 0, len(rows))
	for _, r := range rows {
		meta, err := vectorstore.DecodeMetadata(r.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %w", vectorstore.ErrStoreUnavailable, r.ID, err)
		}
		out = append(out, domain.SearchResult{
			Chunk: domain.Chunk{ID: r.ID, Content: r.Content, Metadata: meta},
			Score: r.Similarity,
		})
	}
	return out, nil
}

func (s *Storage) Clear(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, s.table)); err != nil {
		return fmt.Errorf("%w: clear: %w", vectorstore.ErrStoreUnavailable, err)
	}
	s.guard.Set(s.dim)
	return nil
}

func (s *Storage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}
