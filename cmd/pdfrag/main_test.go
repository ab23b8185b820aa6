package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfrag/internal/config"
	"pdfrag/internal/ingest"
)

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b c", preview("a\n b\t c", 10))
	assert.Equal(t, "abcde...", preview("abcdefgh", 5))
}

func TestNewProgressDisabled(t *testing.T) {
	assert.Nil(t, newProgress(false))
	p := newProgress(true)
	require.NotNil(t, p)
	// zero-chunk documents draw nothing
	p.Start("empty.pdf", 0)
	p.Advance(ingest.ChunkResult{})
	p.Finish()
}

func TestBuildIngestAndStatusWithoutCompleter(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	cfg.VectorStore.Type = "localfile"
	cfg.VectorStore.LocalFile = &config.LocalFileConfig{Path: filepath.Join(dir, "chunks.json")}
	cfg.Embedder.Cache.RedisAddr = ""

	doc := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(doc, []byte("Go channels connect concurrent goroutines."), 0o644))

	ctx := context.Background()
	a, err := build(ctx, cfg, false, false, newLogger(cfg.Log))
	require.NoError(t, err)
	defer a.Close()

	report, err := a.svc.Ingest(ctx, []string{doc}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Successful())

	st, err := a.svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Chunks)
	assert.Equal(t, "localfile", st.Store)
	assert.Empty(t, st.Completer)
}

type widthEmbedder struct{ calls int }

func (e *widthEmbedder) Name() string   { return "width" }
func (e *widthEmbedder) Dimension() int { return 0 }
func (e *widthEmbedder) Embed(context.Context, string) ([]float32, error) {
	e.calls++
	return []float32{1, 2, 3}, nil
}

func TestLearnDimension(t *testing.T) {
	emb := &widthEmbedder{}
	dim, err := learnDimension(context.Background(), emb, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, dim)
	assert.Equal(t, 1, emb.calls)
}

func TestBuildUnknownStore(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	cfg.VectorStore.Type = "nope"
	_, err = build(context.Background(), cfg, false, false, newLogger(cfg.Log))
	assert.Error(t, err)
}
