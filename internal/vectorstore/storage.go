// Package vectorstore defines the chunk store contract shared by the local
// and remote backing policies.
package vectorstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"pdfrag/internal/domain"
)

// Storage persists chunks and supports similarity search.
type Storage = domain.ChunkStore

var (
	// ErrStoreUnavailable is returned when the backend cannot be reached or read.
	ErrStoreUnavailable = errors.New("chunk store unavailable")
	// ErrInsertFailed is returned when a single chunk could not be persisted.
	ErrInsertFailed = errors.New("chunk insert failed")
	// ErrDimensionMismatch is returned when an embedding does not match the store dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrSearchUnsupported is returned when the backend lacks a server-side search function.
	ErrSearchUnsupported = errors.New("server-side search unsupported")
)

// DefaultLocalThreshold is the similarity floor local scans apply when the
// caller passes a negative threshold.
const DefaultLocalThreshold = 0.1

// NoThreshold asks a store for every chunk regardless of similarity.
var NoThreshold = math.Inf(-1)

// ResolveThreshold maps a negative threshold to DefaultLocalThreshold.
// NoThreshold is passed through.
func ResolveThreshold(threshold float64) float64 {
	if math.IsInf(threshold, -1) {
		return threshold
	}
	if threshold < 0 {
		return DefaultLocalThreshold
	}
	return threshold
}

// DimensionGuard pins the embedding dimension of a store instance. A zero
// dimension is learned from the first accepted embedding.
type DimensionGuard struct {
	mu  sync.Mutex
	dim int
}

// NewDimensionGuard creates a guard for the given dimension (0 = learn).
func NewDimensionGuard(dim int) *DimensionGuard {
	return &DimensionGuard{dim: dim}
}

// Check validates v against the pinned dimension, pinning it if unset.
func (g *DimensionGuard) Check(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty embedding", ErrDimensionMismatch)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dim == 0 {
		g.dim = len(v)
		return nil
	}
	if len(v) != g.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), g.dim)
	}
	return nil
}

// Dimension returns the pinned dimension, 0 if none yet.
func (g *DimensionGuard) Dimension() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dim
}

// Set pins the dimension explicitly; 0 unpins it.
func (g *DimensionGuard) Set(dim int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dim = dim
}

// ValidateInsert enforces the chunk invariants shared by every backend.
func ValidateInsert(g *DimensionGuard, content string, embedding []float32) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: empty content", ErrInsertFailed)
	}
	return g.Check(embedding)
}

// EncodeMetadata marshals metadata, mapping nil to an empty object.
func EncodeMetadata(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}

// DecodeMetadata unmarshals metadata text; empty text yields an empty map.
func DecodeMetadata(s string) (map[string]any, error) {
	m := map[string]any{}
	if strings.TrimSpace(s) == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return m, nil
}

// CloneChunk returns a copy of ch that shares no memory with it.
func CloneChunk(ch domain.Chunk) domain.Chunk {
	ch.Embedding = append([]float32(nil), ch.Embedding...)
	ch.Metadata = CloneMetadata(ch.Metadata)
	return ch
}

// CloneMetadata deep-copies m, including nested JSON objects and arrays.
// A nil map yields an empty one.
func CloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMetadata(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Contents extracts chunk text from search results, preserving order.
func Contents(results []domain.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.Content
	}
	return out
}
