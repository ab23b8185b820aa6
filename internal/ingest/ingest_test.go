package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfrag/internal/chunker"
	"pdfrag/internal/domain"
	"pdfrag/internal/embedding"
	"pdfrag/internal/embedding/hashing"
	"pdfrag/internal/extract"
	"pdfrag/internal/vectorstore"
	"pdfrag/internal/vectorstore/memory"
)

// flakyStore fails the inserts whose call number (1-based) is listed.
type flakyStore struct {
	*memory.Storage
	failOn   map[int]bool
	calls    int
	attempts []string
}

func (s *flakyStore) Insert(ctx context.Context, content string, emb []float32, meta map[string]any) (int64, error) {
	s.calls++
	s.attempts = append(s.attempts, content)
	if s.failOn[s.calls] {
		return 0, fmt.Errorf("%w: simulated", vectorstore.ErrInsertFailed)
	}
	return s.Storage.Insert(ctx, content, emb, meta)
}

type stubExtractor struct {
	text string
	err  error
}

func (e stubExtractor) Extract(ctx context.Context, path string) (string, error) { return e.text, e.err }

type failingEmbedder struct{ domain.Embedder }

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, embedding.Unavailable("fake", errors.New("quota exceeded"))
}

type recorder struct {
	started  int
	advanced int
	finished bool
}

func (r *recorder) Start(source string, total int) { r.started = total }
func (r *recorder) Advance(ChunkResult)            { r.advanced++ }
func (r *recorder) Finish()                        { r.finished = true }

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(w, " ")
}

func TestPartialFailureIsCountedNotFatal(t *testing.T) {
	store := &flakyStore{Storage: memory.NewStorage(0), failOn: map[int]bool{2: true}}
	in := New(stubExtractor{text: words(1200)}, chunker.NewWordChunker(500), hashing.NewEmbedder(64), store, Config{}, nil)

	prog := &recorder{}
	sum, err := in.IngestFile(context.Background(), "/tmp/guide.pdf", prog)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 2, sum.Successful)
	assert.Equal(t, 1, sum.Failed)
	require.Len(t, sum.Errors, 1)
	assert.Contains(t, sum.Errors[0], "chunk 1")
	assert.Equal(t, "guide.pdf: stored 2/3 chunks", sum.String())

	assert.Equal(t, 3, store.calls)
	require.Len(t, sum.Results, 3)
	assert.ErrorIs(t, sum.Results[1].Err, vectorstore.ErrInsertFailed)

	stored, err := store.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Len(t, strings.Fields(stored[0].Content), 500)
	assert.Len(t, strings.Fields(stored[1].Content), 200)
	assert.Equal(t, 0, stored[0].Metadata[domain.MetaChunkIndex])
	assert.Equal(t, 2, stored[1].Metadata[domain.MetaChunkIndex])
	assert.Equal(t, "guide.pdf", stored[1].Metadata[domain.MetaSource])
	assert.Equal(t, sum.DocumentID, stored[1].Metadata[domain.MetaDocumentID])

	assert.Equal(t, 3, prog.started)
	assert.Equal(t, 3, prog.advanced)
	assert.True(t, prog.finished)
}

func TestEmbeddingFailuresAreCapped(t *testing.T) {
	store := memory.NewStorage(0)
	in := New(stubExtractor{}, chunker.NewWordChunker(1), failingEmbedder{hashing.NewEmbedder(8)}, store, Config{}, nil)
	sum, err := in.IngestText(context.Background(), "notes.txt", words(8), nil)
	require.NoError(t, err)
	assert.Equal(t, 8, sum.Total)
	assert.Zero(t, sum.Successful)
	assert.Len(t, sum.Errors, MaxReportedErrors)
	assert.ErrorIs(t, sum.Results[7].Err, embedding.ErrEmbeddingUnavailable)
}

func TestEmptyDocumentIsZeroChunks(t *testing.T) {
	in := New(stubExtractor{err: extract.ErrExtractionEmpty}, chunker.NewWordChunker(0), hashing.NewEmbedder(8), memory.NewStorage(0), Config{}, nil)
	sum, err := in.IngestFile(context.Background(), "scan.pdf", nil)
	require.NoError(t, err)
	assert.Zero(t, sum.Total)
	assert.Equal(t, "scan.pdf: stored 0/0 chunks", sum.String())
}

func TestUnsupportedFileIsAnError(t *testing.T) {
	in := New(extract.Auto{}, chunker.NewWordChunker(0), hashing.NewEmbedder(8), memory.NewStorage(0), Config{}, nil)
	_, err := in.IngestFile(context.Background(), "deck.pptx", nil)
	assert.ErrorIs(t, err, extract.ErrUnsupportedFormat)
}

func TestCreatedAtStamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("one two three"), 0o644))
	store := memory.NewStorage(0)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	in := New(extract.Auto{}, chunker.NewWordChunker(0), hashing.NewEmbedder(8), store, Config{Now: func() time.Time { return fixed }}, nil)

	_, err := in.IngestFile(context.Background(), path, nil)
	require.NoError(t, err)
	all, _ := store.FetchAll(context.Background())
	require.Len(t, all, 1)
	assert.Equal(t, "2026-01-02T02:04:05Z", all[0].Metadata[domain.MetaCreatedAt])
}
