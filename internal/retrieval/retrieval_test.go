package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfrag/internal/domain"
	"pdfrag/internal/embedding"
	"pdfrag/internal/vectorstore"
	"pdfrag/internal/vectorstore/memory"
)

type countingEmbedder struct {
	calls int
	err   error
}

func (e *countingEmbedder) Name() string   { return "fake" }
func (e *countingEmbedder) Dimension() int { return 2 }
func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 0}, nil
}

// stubStore wraps a memory store and lets tests break individual operations.
type stubStore struct {
	*memory.Storage
	countErr  error
	searchErr error
	fetchErr  error
	searched  bool
}

func (s *stubStore) Count(ctx context.Context) (int, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	return s.Storage.Count(ctx)
}

func (s *stubStore) Search(ctx context.Context, q []float32, k int, threshold float64) ([]domain.SearchResult, error) {
	s.searched = true
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.Storage.Search(ctx, q, k, threshold)
}

func (s *stubStore) FetchAll(ctx context.Context) ([]domain.Chunk, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.Storage.FetchAll(ctx)
}

func newStore(t *testing.T, chunks map[string][]float32, order ...string) *stubStore {
	t.Helper()
	s := &stubStore{Storage: memory.NewStorage(0)}
	for _, c := range order {
		_, err := s.Insert(context.Background(), c, chunks[c], nil)
		require.NoError(t, err)
	}
	return s
}

func TestIsRelevant(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		chunks []string
		want   bool
	}{
		{"short markup query", "what is ul", []string{"<ul> creates unordered list"}, true},
		{"only stop words", "what is the", []string{"unrelated"}, true},
		{"exact match", "explain gradient descent optimisation steps", []string{"gradient descent moves downhill"}, true},
		{"no shared stem", "describe tokenization pipelines for large corpora", []string{"the tokenizer splits text"}, false},
		{"substring both directions", "describe tokenizers pipelines for large corpora", []string{"a tokenizer splits text"}, true},
		{"short query permissive", "go go go go", []string{"gopher"}, true},
		{"long unrelated query", "quantum entanglement photon polarization experiments", []string{"html tags create lists"}, false},
		{"short query no chunks", "photons", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRelevant(tt.query, tt.chunks))
		})
	}
}

func TestEmptyStoreSkipsEmbedding(t *testing.T) {
	emb := &countingEmbedder{}
	store := newStore(t, nil)
	res, err := New(emb, store, Config{}, nil).Retrieve(context.Background(), "anything", 0)
	require.NoError(t, err)
	assert.Empty(t, res.Contents)
	assert.Equal(t, TierEmptyStore, res.Tier)
	assert.Zero(t, emb.calls)
	assert.False(t, store.searched)
}

func TestCountFailureReturnsEmpty(t *testing.T) {
	emb := &countingEmbedder{}
	store := newStore(t, nil)
	store.countErr = vectorstore.ErrStoreUnavailable
	res, err := New(emb, store, Config{}, nil).Retrieve(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Empty(t, res.Contents)
	assert.Zero(t, emb.calls)
}

func TestVectorTierReturnsStoreOrder(t *testing.T) {
	store := newStore(t, map[string][]float32{
		"close":   {0.9, 0.1},
		"exact":   {1, 0},
		"distant": {0, 1},
	}, "close", "exact", "distant")
	res, err := New(&countingEmbedder{}, store, Config{}, nil).Retrieve(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Equal(t, TierVector, res.Tier)
	assert.Equal(t, []string{"exact", "close"}, res.Contents)
}

func TestExplicitZeroThreshold(t *testing.T) {
	store := newStore(t, map[string][]float32{
		"exact":   {1, 0},
		"distant": {0, 1},
	}, "exact", "distant")
	zero := 0.0
	res, err := New(&countingEmbedder{}, store, Config{Threshold: &zero}, nil).Retrieve(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Equal(t, TierVector, res.Tier)
	assert.Equal(t, []string{"exact", "distant"}, res.Contents)
}

func TestFallbackOnSearchError(t *testing.T) {
	store := newStore(t, map[string][]float32{"html tags build pages": {0, 1}}, "html tags build pages")
	store.searchErr = fmt.Errorf("%w: no function", vectorstore.ErrSearchUnsupported)
	res, err := New(&countingEmbedder{}, store, Config{}, nil).Retrieve(context.Background(), "which html element is this", 5)
	require.NoError(t, err)
	assert.Equal(t, TierKeyword, res.Tier)
	assert.Equal(t, []string{"html tags build pages"}, res.Contents)
}

func TestFallbackCapsAtK(t *testing.T) {
	chunks := map[string][]float32{}
	var order []string
	for i := 0; i < 8; i++ {
		c := fmt.Sprintf("chunk %d about routers", i)
		chunks[c] = []float32{0, 1}
		order = append(order, c)
	}
	store := newStore(t, chunks, order...)
	res, err := New(&countingEmbedder{}, store, Config{}, nil).Retrieve(context.Background(), "routers", 3)
	require.NoError(t, err)
	assert.Equal(t, TierKeyword, res.Tier)
	assert.Equal(t, order[:3], res.Contents)
}

func TestFallbackSmallCorpus(t *testing.T) {
	store := newStore(t, map[string][]float32{"alpha beta": {0, 1}, "gamma delta": {0, 1}}, "alpha beta", "gamma delta")
	res, err := New(&countingEmbedder{}, store, Config{}, nil).
		Retrieve(context.Background(), "quantum entanglement photon polarization experiments", 5)
	require.NoError(t, err)
	assert.Equal(t, TierSmallCorpus, res.Tier)
	assert.Len(t, res.Contents, 2)
}

func TestFallbackRejectsLargeCorpus(t *testing.T) {
	chunks := map[string][]float32{}
	var order []string
	for i := 0; i < 6; i++ {
		c := strings.Repeat(fmt.Sprintf("lorem%d ", i), 3)
		chunks[c] = []float32{0, 1}
		order = append(order, c)
	}
	store := newStore(t, chunks, order...)
	res, err := New(&countingEmbedder{}, store, Config{}, nil).
		Retrieve(context.Background(), "quantum entanglement photon polarization experiments", 5)
	require.NoError(t, err)
	assert.Equal(t, TierNone, res.Tier)
	assert.Empty(t, res.Contents)
}

func TestFetchAllFailureReturnsEmpty(t *testing.T) {
	store := newStore(t, map[string][]float32{"x": {0, 1}}, "x")
	store.fetchErr = errors.New("boom")
	res, err := New(&countingEmbedder{}, store, Config{}, nil).Retrieve(context.Background(), "x", 5)
	require.NoError(t, err)
	assert.Empty(t, res.Contents)
}

func TestEmbeddingFailureIsReported(t *testing.T) {
	store := newStore(t, map[string][]float32{"x": {1, 0}}, "x")
	emb := &countingEmbedder{err: errors.New("dial tcp: refused")}
	_, err := New(emb, store, Config{}, nil).Retrieve(context.Background(), "x", 5)
	assert.ErrorIs(t, err, embedding.ErrEmbeddingUnavailable)
	assert.False(t, store.searched)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "2 chunks via keyword", Result{Contents: []string{"a", "b"}, Tier: TierKeyword}.Describe())
	assert.Equal(t, "0 chunks via empty-store", Result{Tier: TierEmptyStore}.Describe())
}
