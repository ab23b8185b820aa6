// Package retrieval turns a question into an ordered list of candidate chunk
// texts, falling back from server-side vector search to a keyword-filtered
// full scan when the store cannot search or finds nothing.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pdfrag/internal/domain"
	"pdfrag/internal/embedding"
	"pdfrag/internal/textutil"
	"pdfrag/internal/vectorstore"
)

const (
	DefaultTopK            = 5
	DefaultThreshold       = 0.2
	DefaultSmallCorpusSize = 5
)

// Tier names the stage of the pipeline that produced a result.
type Tier string

const (
	TierEmptyStore  Tier = "empty-store"
	TierVector      Tier = "vector"
	TierKeyword     Tier = "keyword"
	TierSmallCorpus Tier = "small-corpus"
	TierNone        Tier = "none"
)

// Result is the outcome of one retrieval.
type Result struct {
	Contents []string
	Tier     Tier
}

type Config struct {
	TopK int
	// Threshold is the vector-search similarity floor. nil uses
	// DefaultThreshold; an explicit 0 is honored.
	Threshold *float64
	// SmallCorpusSize is the chunk count at or below which the fallback
	// returns everything even when the keyword filter rejects.
	SmallCorpusSize int
	EmbedTimeout    time.Duration
	StoreTimeout    time.Duration
}

// Retriever runs the tiered retrieval pipeline.
type Retriever struct {
	embedder  domain.Embedder
	store     domain.ChunkStore
	cfg       Config
	threshold float64
	logger    *slog.Logger
}

func New(embedder domain.Embedder, store domain.ChunkStore, cfg Config, logger *slog.Logger) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	threshold := DefaultThreshold
	if cfg.Threshold != nil {
		threshold = *cfg.Threshold
	}
	if cfg.SmallCorpusSize <= 0 {
		cfg.SmallCorpusSize = DefaultSmallCorpusSize
	}
	if cfg.EmbedTimeout == 0 {
		cfg.EmbedTimeout = 30 * time.Second
	}
	if cfg.StoreTimeout == 0 {
		cfg.StoreTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, store: store, cfg: cfg, threshold: threshold, logger: logger}
}

// Retrieve returns the chunk contents most relevant to query, most relevant
// first. k <= 0 uses the configured top-k. The only error returned is an
// embedding failure for the query itself; store failures degrade to the
// next tier or to an empty result.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) (Result, error) {
	if k <= 0 {
		k = r.cfg.TopK
	}

	sctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	n, err := r.store.Count(sctx)
	cancel()
	if err != nil {
		r.logger.Warn("chunk count failed", "error", err)
		return Result{Tier: TierNone}, nil
	}
	if n == 0 {
		return Result{Tier: TierEmptyStore}, nil
	}

	ectx, cancel := context.WithTimeout(ctx, r.cfg.EmbedTimeout)
	vec, err := r.embedder.Embed(ectx, query)
	cancel()
	if err != nil {
		if !errors.Is(err, embedding.ErrEmbeddingUnavailable) {
			err = embedding.Unavailable(r.embedder.Name(), err)
		}
		return Result{Tier: TierNone}, err
	}

	sctx, cancel = context.WithTimeout(ctx, r.cfg.StoreTimeout)
	results, err := r.store.Search(sctx, vec, k, r.threshold)
	cancel()
	switch {
	case err != nil:
		r.logger.Warn("vector search failed, using fallback", "error", err)
	case len(results) > 0:
		return Result{Contents: vectorstore.Contents(results), Tier: TierVector}, nil
	default:
		r.logger.Debug("vector search returned nothing, using fallback", "threshold", r.threshold)
	}
	return r.fallback(ctx, query, k), nil
}

func (r *Retriever) fallback(ctx context.Context, query string, k int) Result {
	sctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()
	chunks, err := r.store.FetchAll(sctx)
	if err != nil {
		r.logger.Warn("fetch all failed", "error", err)
		return Result{Tier: TierNone}
	}
	contents := make([]string, len(chunks))
	for i, ch := range chunks {
		contents[i] = ch.Content
	}
	if IsRelevant(query, contents) {
		if len(contents) > k {
			contents = contents[:k]
		}
		return Result{Contents: contents, Tier: TierKeyword}
	}
	if len(contents) > 0 && len(contents) <= r.cfg.SmallCorpusSize {
		return Result{Contents: contents, Tier: TierSmallCorpus}
	}
	return Result{Tier: TierNone}
}

// IsRelevant is the keyword-overlap filter applied to a full scan.
//
// Query and chunks are lowercased and split on whitespace; query stop words
// are dropped. A query with no meaningful words is accepted. Otherwise any
// exact word match accepts, as does a substring match in either direction
// when both words are longer than two characters. Queries of at most three
// meaningful words are accepted whenever at least one chunk exists, which
// lets short technical questions through at the cost of precision.
func IsRelevant(query string, chunks []string) bool {
	meaningful := textutil.FieldSet(query).Without(textutil.QueryStopwords)
	if len(meaningful) == 0 {
		return true
	}
	for _, chunk := range chunks {
		words := textutil.FieldSet(chunk)
		for q := range meaningful {
			if words.Has(q) {
				return true
			}
			if len(q) <= 2 {
				continue
			}
			for w := range words {
				if len(w) > 2 && (strings.Contains(w, q) || strings.Contains(q, w)) {
					return true
				}
			}
		}
	}
	return len(meaningful) <= 3 && len(chunks) > 0
}

// Describe renders a one-line summary of a result for logs and the CLI.
func (res Result) Describe() string {
	return fmt.Sprintf("%d chunks via %s", len(res.Contents), res.Tier)
}
