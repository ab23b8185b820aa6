// Package sqlite is a durable local chunk store that appends one row per
// chunk to a SQLite database. Similarity is computed in Go with a linear scan.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"
	_ "modernc.org/sqlite"

	"pdfrag/internal/domain"
	"pdfrag/internal/similarity"
	"pdfrag/internal/vectorstore"
)

// Storage is a SQLite-backed chunk store.
type Storage struct {
	db    *sqlx.DB
	mu    sync.Mutex
	guard *vectorstore.DimensionGuard
}

// Open opens (creating if needed) the database at path. ":memory:" is allowed.
func Open(ctx context.Context, path string) (*Storage, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", vectorstore.ErrStoreUnavailable)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: %w", vectorstore.ErrStoreUnavailable, err)
		}
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", vectorstore.ErrStoreUnavailable, path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	s := &Storage{db: db, guard: vectorstore.NewDimensionGuard(0)}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.loadDimension(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Storage) Close() error { return s.db.Close() }

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content TEXT NOT NULL,
			embedding TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: init sqlite: %w", vectorstore.ErrStoreUnavailable, err)
		}
	}
	return nil
}

func (s *Storage) loadDimension(ctx context.Context) error {
	var first pgvector.Vector
	err := s.db.GetContext(ctx, &first, `SELECT embedding FROM chunks ORDER BY id LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", vectorstore.ErrStoreUnavailable, err)
	}
	s.guard.Set(len(first.Slice()))
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
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `INSERT INTO chunks (content, embedding, metadata) VALUES (?, ?, ?)`,
		content, pgvector.NewVector(embedding), meta)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", vectorstore.ErrInsertFailed, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", vectorstore.ErrInsertFailed, err)
	}
	return id, nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM chunks`); err != nil {
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
	var rows []chunkRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, content, embedding, metadata FROM chunks ORDER BY id`); err != nil {
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

func (s *Storage) Search(ctx context.Context, query []float32, k int, threshold float64) ([]domain.SearchResult, error) {
	chunks, err := s.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	return similarity.Rank(query, chunks, k, vectorstore.ResolveThreshold(threshold)), nil
}

func (s *Storage) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("%w: clear: %w", vectorstore.ErrStoreUnavailable, err)
	}
	s.guard.Set(0)
	return nil
}
