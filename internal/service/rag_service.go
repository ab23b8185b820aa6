package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"pdfrag/internal/answer"
	"pdfrag/internal/domain"
	"pdfrag/internal/extract"
	"pdfrag/internal/ingest"
	"pdfrag/internal/similarity"
	"pdfrag/internal/vectorstore"
)

// Deps wires the pipeline components into the service.
type Deps struct {
	Ingester            *ingest.Ingester
	Answerer            *answer.Answerer
	Embedder            domain.Embedder
	Store               domain.ChunkStore
	StoreName           string
	Completer           domain.Completer
	Summarizer          domain.Summarizer
	SummaryMaxSentences int
	Logger              *slog.Logger
}

// RAGService is the facade used by the CLI and the TUI.
type RAGService struct {
	Deps
}

func NewRAGService(deps Deps) *RAGService {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &RAGService{Deps: deps}
}

// IngestReport covers one ingest call over several files.
type IngestReport struct {
	Documents []ingest.Summary
	// Failures lists files that could not be read at all.
	Failures []string
	Summary  string
}

// Successful sums stored chunks across documents.
func (r IngestReport) Successful() int {
	n := 0
	for _, d := range r.Documents {
		n += d.Successful
	}
	return n
}

// Total sums chunk counts across documents.
func (r IngestReport) Total() int {
	n := 0
	for _, d := range r.Documents {
		n += d.Total
	}
	return n
}

// Ingest expands glob patterns (doublestar syntax, "**" allowed) and stores
// every PDF or text file found. One unreadable file does not stop the rest.
func (s *RAGService) Ingest(ctx context.Context, patterns []string, progress ingest.Progress) (IngestReport, error) {
	paths, err := expandPaths(patterns)
	if err != nil {
		return IngestReport{}, err
	}
	if len(paths) == 0 {
		return IngestReport{}, errors.New("no PDF or text documents found")
	}
	var report IngestReport
	var texts strings.Builder
	for _, p := range paths {
		sum, err := s.Ingester.IngestFile(ctx, p, progress)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			s.Logger.Error("ingest failed", "path", p, "error", err)
			report.Failures = append(report.Failures, err.Error())
			continue
		}
		report.Documents = append(report.Documents, sum)
		if sum.Successful > 0 {
			texts.WriteString(sum.Text)
			texts.WriteString("\n")
		}
	}
	if s.Summarizer != nil && texts.Len() > 0 {
		summary, err := s.Summarizer.Summarize(texts.String(), s.SummaryMaxSentences)
		if err != nil {
			s.Logger.Warn("summarize failed", "error", err)
		}
		report.Summary = summary
	}
	return report, nil
}

func expandPaths(patterns []string) ([]string, error) {
	seen := map[string]struct{}{}
	var out []string
	add := func(p string) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	for _, p := range patterns {
		if !strings.ContainsAny(p, "*?[{") {
			add(p)
			continue
		}
		matches, err := doublestar.FilepathGlob(p)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", p, err)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if fi, err := os.Stat(m); err != nil || fi.IsDir() {
				continue
			}
			if _, err := extract.ForPath(m); err != nil {
				continue
			}
			add(m)
		}
	}
	return out, nil
}

// Answer returns the generated answer for question, or answer.Refusal.
func (s *RAGService) Answer(ctx context.Context, question string) string {
	return s.Answerer.Answer(ctx, question)
}

// Ask is Answer with retrieval details.
func (s *RAGService) Ask(ctx context.Context, question string) answer.Response {
	return s.Answerer.Ask(ctx, question)
}

// Clear removes every stored chunk.
func (s *RAGService) Clear(ctx context.Context) error {
	return s.Store.Clear(ctx)
}

// Status describes the running pipeline.
type Status struct {
	Chunks    int
	Store     string
	Embedder  string
	Dimension int
	Completer string
}

func (s *RAGService) Status(ctx context.Context) (Status, error) {
	st := Status{Store: s.StoreName, Embedder: s.Embedder.Name(), Dimension: s.Embedder.Dimension()}
	if s.Completer != nil {
		st.Completer = s.Completer.Name()
	}
	n, err := s.Store.Count(ctx)
	if err != nil {
		return st, err
	}
	st.Chunks = n
	return st, nil
}

// DebugSearch reports raw similarity scores for query with no similarity
// floor, so negative scores are included.
// Stores without a server-side search are scored locally over a full scan.
func (s *RAGService) DebugSearch(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	vec, err := s.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	res, err := s.Store.Search(ctx, vec, k, vectorstore.NoThreshold)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, vectorstore.ErrSearchUnsupported) {
		return nil, err
	}
	s.Logger.Warn("server-side search unavailable, scoring locally", "error", err)
	chunks, err := s.Store.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	return similarity.Rank(vec, chunks, k, vectorstore.NoThreshold), nil
}
