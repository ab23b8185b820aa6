package hashing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfrag/internal/similarity"
)

func TestEmbedDeterministic(t *testing.T) {
	e := NewEmbedder(0)
	assert.Equal(t, DefaultDimension, e.Dimension())
	a, err := e.Embed(context.Background(), "The <ul> tag creates an unordered list")
	require.NoError(t, err)
	b, err := NewEmbedder(0).Embed(context.Background(), "The <ul> tag creates an unordered list")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, DefaultDimension)
	assert.InDelta(t, 1.0, similarity.Cosine(a, a), 1e-6)
}

func TestEmbedDistinctTexts(t *testing.T) {
	e := NewEmbedder(128)
	a, _ := e.Embed(context.Background(), "postgres stores embeddings in rows")
	b, _ := e.Embed(context.Background(), "bananas ripen quickly in summer heat")
	assert.Less(t, similarity.Cosine(a, b), 1.0)
}

func TestEmbedRelatedTextsScoreHigher(t *testing.T) {
	e := NewEmbedder(0)
	q, _ := e.Embed(context.Background(), "unordered list tag")
	near, _ := e.Embed(context.Background(), "the ul tag creates an unordered list of items")
	far, _ := e.Embed(context.Background(), "quarterly revenue grew by four percent")
	assert.Greater(t, similarity.Cosine(q, near), similarity.Cosine(q, far))
}

func TestEmbedStopwordsOnlyIsZero(t *testing.T) {
	v, err := NewEmbedder(16).Embed(context.Background(), "the and of")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 16), v)
}

func TestEmbedCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEmbedder(8).Embed(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
