// Package embedding defines the embedding backend contract and its failure mode.
package embedding

import (
	"errors"
	"fmt"

	"pdfrag/internal/domain"
)

// Embedder converts free text into a fixed-dimension vector.
type Embedder = domain.Embedder

// ErrEmbeddingUnavailable marks a backend that could not produce a vector:
// network failure, rejected credentials, exhausted quota or a malformed reply.
var ErrEmbeddingUnavailable = errors.New("embedding unavailable")

// Unavailable wraps err so that errors.Is(err, ErrEmbeddingUnavailable) holds.
func Unavailable(backend string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrEmbeddingUnavailable, backend)
	}
	return fmt.Errorf("%w: %s: %w", ErrEmbeddingUnavailable, backend, err)
}
