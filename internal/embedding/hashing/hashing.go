// Package hashing implements a local, dependency-free embedder based on
// signed feature hashing of word unigrams and bigrams.
package hashing

import (
	"context"
	"hash/fnv"

	"pdfrag/internal/similarity"
	"pdfrag/internal/textutil"
)

// DefaultDimension matches the width of the small sentence-transformer models
// the hosted variants are typically swapped for.
const DefaultDimension = 384

const bigramWeight = 0.5

// Embedder hashes tokens into a fixed number of buckets. It holds no mutable
// state, so one instance can be shared by every component.
type Embedder struct {
	dimension int
	stopwords textutil.WordSet
}

// NewEmbedder creates a hashing embedder producing vectors of the given dimension.
func NewEmbedder(dimension int) *Embedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Embedder{dimension: dimension, stopwords: textutil.EnglishStopwords}
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "hashing" }

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimension() int { return e.dimension }

// Embed returns the L2-normalized hashed vector for text. Text without any
// usable token maps to the zero vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, e.dimension)
	tokens := e.tokenize(text)
	for i, tok := range tokens {
		e.add(vec, tok, 1)
		if i > 0 {
			e.add(vec, tokens[i-1]+" "+tok, bigramWeight)
		}
	}
	similarity.Normalize(vec)
	return vec, nil
}

func (e *Embedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dimension))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

func (e *Embedder) tokenize(text string) []string {
	raw := textutil.Words(text)
	out := raw[:0]
	for _, t := range raw {
		if e.stopwords.Has(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}
