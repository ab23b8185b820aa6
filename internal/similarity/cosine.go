// Package similarity scores embeddings against each other.
package similarity

import (
	"math"
	"sort"

	"pdfrag/internal/domain"
)

// Cosine returns dot(a,b) / (|a| * |b|). Zero-norm vectors and vectors of
// different length score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Rank scores every chunk against query and returns the k best with a score
// of at least threshold, highest first. Equal scores keep insertion order.
// k <= 0 returns every qualifying chunk.
func Rank(query []float32, chunks []domain.Chunk, k int, threshold float64) []domain.SearchResult {
	results := make([]domain.SearchResult, 0, len(chunks))
	for _, ch := range chunks {
		results = append(results, domain.SearchResult{Chunk: ch, Score: Cosine(query, ch.Embedding)})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > 0 && k < len(results) {
		results = results[:k]
	}
	out := results[:0]
	for _, r := range results {
		if r.Score >= threshold {
			out = append(out, r)
		}
	}
	return out
}

// Normalize scales v to unit length in place. Zero vectors are left untouched.
func Normalize(v []float32) {
	var n float64
	for _, x := range v {
		n += float64(x) * float64(x)
	}
	if n == 0 {
		return
	}
	n = math.Sqrt(n)
	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}
}
