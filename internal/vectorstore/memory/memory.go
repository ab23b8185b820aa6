package memory

import (
	"context"
	"sync"

	"pdfrag/internal/domain"
	"pdfrag/internal/similarity"
	"pdfrag/internal/vectorstore"
)

// Storage is a simple in-memory chunk store using brute-force cosine similarity.
type Storage struct {
	mu     sync.RWMutex
	guard  *vectorstore.DimensionGuard
	chunks []domain.Chunk
	nextID int64
}

// NewStorage creates an empty store; dimension 0 is learned on first insert.
func NewStorage(dimension int) *Storage {
	return &Storage{guard: vectorstore.NewDimensionGuard(dimension), nextID: 1}
}

func (s *Storage) Insert(ctx context.Context, content string, embedding []float32, metadata map[string]any) (int64, error) {
	if err := vectorstore.ValidateInsert(s.guard, content, embedding); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.chunks = append(s.chunks, domain.Chunk{
		ID:        id,
		Content:   content,
		Embedding: append([]float32(nil), embedding...),
		Metadata:  vectorstore.CloneMetadata(metadata),
	})
	return id, nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

func (s *Storage) FetchAll(ctx context.Context) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Chunk, len(s.chunks))
	for i, ch := range s.chunks {
		out[i] = vectorstore.CloneChunk(ch)
	}
	return out, nil
}

func (s *Storage) Search(ctx context.Context, query []float32, k int, threshold float64) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := similarity.Rank(query, s.chunks, k, vectorstore.ResolveThreshold(threshold))
	for i := range res {
		res[i].Chunk = vectorstore.CloneChunk(res[i].Chunk)
	}
	return res, nil
}

func (s *Storage) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = nil
	return nil
}
