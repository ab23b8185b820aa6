// Package ingest extracts a document, splits it into chunks and stores each
// chunk with its embedding. Chunks are processed one at a time; a failed
// chunk is recorded and the next one is still attempted.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"pdfrag/internal/domain"
	"pdfrag/internal/extract"
)

// MaxReportedErrors caps Summary.Errors.
const MaxReportedErrors = 5

// ChunkResult is the outcome of storing one chunk.
type ChunkResult struct {
	Index int
	ID    int64
	Err   error
}

// Summary reports a single document's ingestion.
type Summary struct {
	Source     string
	DocumentID string
	Total      int
	Successful int
	Failed     int
	// Errors holds the first MaxReportedErrors failure messages.
	Errors  []string
	Results []ChunkResult
	// Text is the extracted document text.
	Text string `json:"-"`
}

// Progress receives per-chunk callbacks during ingestion.
type Progress interface {
	Start(source string, total int)
	Advance(result ChunkResult)
	Finish()
}

type Config struct {
	EmbedTimeout time.Duration
	StoreTimeout time.Duration
	// Now stamps created_at; defaults to time.Now.
	Now func() time.Time
}

type Ingester struct {
	extractor domain.Extractor
	chunker   domain.Chunker
	embedder  domain.Embedder
	store     domain.ChunkStore
	cfg       Config
	logger    *slog.Logger
}

func New(extractor domain.Extractor, chunker domain.Chunker, embedder domain.Embedder, store domain.ChunkStore, cfg Config, logger *slog.Logger) *Ingester {
	if cfg.EmbedTimeout == 0 {
		cfg.EmbedTimeout = 30 * time.Second
	}
	if cfg.StoreTimeout == 0 {
		cfg.StoreTimeout = 15 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{extractor: extractor, chunker: chunker, embedder: embedder, store: store, cfg: cfg, logger: logger}
}

// IngestFile extracts path and stores its chunks. A document without text
// yields an empty summary, not an error.
func (in *Ingester) IngestFile(ctx context.Context, path string, progress Progress) (Summary, error) {
	name := filepath.Base(path)
	text, err := in.extractor.Extract(ctx, path)
	if errors.Is(err, extract.ErrExtractionEmpty) {
		in.logger.Warn("document has no text", "source", name)
		return Summary{Source: name, Results: []ChunkResult{}}, nil
	}
	if err != nil {
		return Summary{Source: name}, fmt.Errorf("extract %s: %w", name, err)
	}
	return in.IngestText(ctx, name, text, progress)
}

// IngestText chunks text and stores every chunk under source.
func (in *Ingester) IngestText(ctx context.Context, source, text string, progress Progress) (Summary, error) {
	doc := domain.Document{ID: uuid.NewString(), Path: source, Name: source, Content: text}
	chunks, err := in.chunker.Chunk(doc)
	if err != nil {
		return Summary{Source: source}, fmt.Errorf("chunk %s: %w", source, err)
	}
	sum := Summary{
		Source:     source,
		DocumentID: doc.ID,
		Total:      len(chunks),
		Results:    make([]ChunkResult, 0, len(chunks)),
		Text:       text,
	}
	if progress != nil {
		progress.Start(source, len(chunks))
		defer progress.Finish()
	}
	createdAt := in.cfg.Now().UTC().Format(time.RFC3339)
	for i, ch := range chunks {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res := in.storeChunk(ctx, i, ch, createdAt)
		sum.Results = append(sum.Results, res)
		if res.Err != nil {
			sum.Failed++
			if len(sum.Errors) < MaxReportedErrors {
				sum.Errors = append(sum.Errors, fmt.Sprintf("chunk %d: %v", i, res.Err))
			}
			in.logger.Warn("chunk failed", "source", source, "chunk_index", i, "error", res.Err)
		} else {
			sum.Successful++
		}
		if progress != nil {
			progress.Advance(res)
		}
	}
	in.logger.Info("document ingested", "source", source, "successful", sum.Successful, "total", sum.Total)
	return sum, nil
}

func (in *Ingester) storeChunk(ctx context.Context, index int, ch domain.Chunk, createdAt string) ChunkResult {
	ectx, cancel := context.WithTimeout(ctx, in.cfg.EmbedTimeout)
	vec, err := in.embedder.Embed(ectx, ch.Content)
	cancel()
	if err != nil {
		return ChunkResult{Index: index, Err: err}
	}
	meta := make(map[string]any, len(ch.Metadata)+1)
	for k, v := range ch.Metadata {
		meta[k] = v
	}
	meta[domain.MetaChunkIndex] = index
	meta[domain.MetaCreatedAt] = createdAt

	sctx, cancel := context.WithTimeout(ctx, in.cfg.StoreTimeout)
	defer cancel()
	id, err := in.store.Insert(sctx, ch.Content, vec, meta)
	if err != nil {
		return ChunkResult{Index: index, Err: err}
	}
	return ChunkResult{Index: index, ID: id}
}

// String renders the upload result line.
func (s Summary) String() string {
	return fmt.Sprintf("%s: stored %d/%d chunks", s.Source, s.Successful, s.Total)
}
