package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfrag/internal/answer"
	"pdfrag/internal/chunker"
	"pdfrag/internal/domain"
	"pdfrag/internal/embedding/hashing"
	"pdfrag/internal/extract"
	"pdfrag/internal/ingest"
	"pdfrag/internal/retrieval"
	"pdfrag/internal/summarizer"
	"pdfrag/internal/vectorstore"
	"pdfrag/internal/vectorstore/memory"
)

type echoCompleter struct{ calls int }

func (c *echoCompleter) Name() string { return "echo" }
func (c *echoCompleter) Complete(ctx context.Context, msgs []domain.Message, _ domain.CompletionOptions) (string, error) {
	c.calls++
	return "The <ul> tag creates an unordered list.", nil
}

func newService(t *testing.T) (*RAGService, *echoCompleter) {
	t.Helper()
	emb := hashing.NewEmbedder(128)
	store := memory.NewStorage(0)
	comp := &echoCompleter{}
	ret := retrieval.New(emb, store, retrieval.Config{}, nil)
	return NewRAGService(Deps{
		Ingester:            ingest.New(extract.Auto{}, chunker.NewWordChunker(5), emb, store, ingest.Config{}, nil),
		Answerer:            answer.New(ret, comp, nil, answer.Config{}, nil),
		Embedder:            emb,
		Store:               store,
		StoreName:           "memory",
		Completer:           comp,
		Summarizer:          summarizer.NewFrequencySummarizer(),
		SummaryMaxSentences: 2,
	}), comp
}

func TestIngestGlobAskClear(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("The ul element creates an unordered list of items."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.md"), []byte("The ol element creates an ordered list."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "c.png"), []byte("binary"), 0o644))

	svc, comp := newService(t)
	ctx := context.Background()

	report, err := svc.Ingest(ctx, []string{filepath.Join(dir, "**", "*")}, nil)
	require.NoError(t, err)
	require.Len(t, report.Documents, 2)
	assert.Empty(t, report.Failures)
	assert.Equal(t, 4, report.Total())
	assert.Equal(t, 4, report.Successful())
	assert.NotEmpty(t, report.Summary)

	st, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Chunks)
	assert.Equal(t, "hashing", st.Embedder)
	assert.Equal(t, "echo", st.Completer)

	resp := svc.Ask(ctx, "what does the ul element create")
	assert.Equal(t, "The <ul> tag creates an unordered list.", resp.Text)
	assert.Equal(t, 1, comp.calls)

	hits, err := svc.DebugSearch(ctx, "unordered list", 3)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)

	require.NoError(t, svc.Clear(ctx))
	assert.Equal(t, answer.Refusal, svc.Answer(ctx, "what does the ul element create"))
	assert.Equal(t, 1, comp.calls)
}

func TestIngestReportsUnreadableFiles(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.txt")
	require.NoError(t, os.WriteFile(good, []byte(strings.Repeat("word ", 12)), 0o644))

	svc, _ := newService(t)
	report, err := svc.Ingest(context.Background(), []string{good, filepath.Join(dir, "missing.pdf"), filepath.Join(dir, "deck.pptx")}, nil)
	require.NoError(t, err)
	require.Len(t, report.Documents, 1)
	assert.Equal(t, 3, report.Documents[0].Total)
	assert.Len(t, report.Failures, 2)
}

func TestIngestNothingMatched(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Ingest(context.Background(), []string{filepath.Join(t.TempDir(), "*.pdf")}, nil)
	assert.Error(t, err)
}

type fixedEmbedder struct{ vec []float32 }

func (e fixedEmbedder) Name() string   { return "fixed" }
func (e fixedEmbedder) Dimension() int { return len(e.vec) }
func (e fixedEmbedder) Embed(context.Context, string) ([]float32, error) {
	return e.vec, nil
}

type noSearchStore struct{ *memory.Storage }

func (noSearchStore) Search(context.Context, []float32, int, float64) ([]domain.SearchResult, error) {
	return nil, vectorstore.ErrSearchUnsupported
}

func TestDebugSearchIncludesNegativeScores(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStorage(0)
	_, err := store.Insert(ctx, "same", []float32{1, 0}, nil)
	require.NoError(t, err)
	_, err = store.Insert(ctx, "opposite", []float32{-1, 0}, nil)
	require.NoError(t, err)

	for name, st := range map[string]domain.ChunkStore{"search": store, "local scan": noSearchStore{store}} {
		t.Run(name, func(t *testing.T) {
			svc := NewRAGService(Deps{Embedder: fixedEmbedder{vec: []float32{1, 0}}, Store: st, Logger: slog.Default()})
			hits, err := svc.DebugSearch(ctx, "anything", 5)
			require.NoError(t, err)
			require.Len(t, hits, 2)
			assert.Equal(t, "same", hits[0].Chunk.Content)
			assert.InDelta(t, -1, hits[1].Score, 1e-9)
		})
	}
}
