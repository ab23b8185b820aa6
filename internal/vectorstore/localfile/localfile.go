// Package localfile keeps the whole chunk set in a single JSON document that
// is rewritten on every mutation.
//
// Writes go to a temporary file in the same directory which is then renamed
// over the target, so readers never observe a half-written file. The store
// serializes writers within one process; separate processes writing the same
// path are not coordinated and the last rename wins (single-writer assumption).
package localfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"pdfrag/internal/domain"
	"pdfrag/internal/similarity"
	"pdfrag/internal/vectorstore"
)

// DefaultPath is the file name used when none is configured.
const DefaultPath = "pdf_chunks.json"

type record struct {
	Content   string         `json:"content"`
	Embedding []float32      `json:"embedding"`
	Metadata  map[string]any `json:"metadata"`
}

// Storage is a file-backed chunk store. Chunk ids are 1-based positions.
type Storage struct {
	path    string
	mu      sync.RWMutex
	guard   *vectorstore.DimensionGuard
	records []record
}

// Open loads path if it exists. A missing file is an empty store.
func Open(path string) (*Storage, error) {
	if path == "" {
		path = DefaultPath
	}
	s := &Storage{path: path, guard: vectorstore.NewDimensionGuard(0)}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", vectorstore.ErrStoreUnavailable, path, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", vectorstore.ErrStoreUnavailable, path, err)
	}
	for i, r := range s.records {
		if err := s.guard.Check(r.Embedding); err != nil {
			return nil, fmt.Errorf("%w: %s record %d: %w", vectorstore.ErrStoreUnavailable, path, i, err)
		}
	}
	return s, nil
}

// Path returns the backing file.
func (s *Storage) Path() string { return s.path }

func (s *Storage) Insert(ctx context.Context, content string, embedding []float32, metadata map[string]any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", vectorstore.ErrInsertFailed, err)
	}
	if err := vectorstore.ValidateInsert(s.guard, content, embedding); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record{
		Content:   content,
		Embedding: append([]float32(nil), embedding...),
		Metadata:  vectorstore.CloneMetadata(metadata),
	})
	if err := s.persist(); err != nil {
		s.records = s.records[:len(s.records)-1]
		return 0, fmt.Errorf("%w: %w", vectorstore.ErrInsertFailed, err)
	}
	return int64(len(s.records)), nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *Storage) FetchAll(ctx context.Context) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chunksLocked(), nil
}

// Search is a linear cosine scan. A negative threshold uses
// vectorstore.DefaultLocalThreshold.
func (s *Storage) Search(ctx context.Context, query []float32, k int, threshold float64) ([]domain.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	chunks := s.chunksLocked()
	s.mu.RUnlock()
	return similarity.Rank(query, chunks, k, vectorstore.ResolveThreshold(threshold)), nil
}

func (s *Storage) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.records
	s.records = nil
	if err := s.persist(); err != nil {
		s.records = prev
		return fmt.Errorf("%w: %w", vectorstore.ErrStoreUnavailable, err)
	}
	s.guard.Set(0)
	return nil
}

func (s *Storage) chunksLocked() []domain.Chunk {
	out := make([]domain.Chunk, len(s.records))
	for i, r := range s.records {
		out[i] = vectorstore.CloneChunk(domain.Chunk{ID: int64(i + 1), Content: r.Content, Embedding: r.Embedding, Metadata: r.Metadata})
	}
	return out
}

// persist writes the full record set atomically. Caller holds mu.
func (s *Storage) persist() error {
	records := s.records
	if records == nil {
		records = []record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
