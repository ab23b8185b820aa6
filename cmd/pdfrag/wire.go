package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"pdfrag/internal/answer"
	"pdfrag/internal/chunker"
	"pdfrag/internal/completion"
	completionollama "pdfrag/internal/completion/ollama"
	completionopenai "pdfrag/internal/completion/openai"
	"pdfrag/internal/config"
	"pdfrag/internal/domain"
	"pdfrag/internal/embedding"
	"pdfrag/internal/embedding/cache"
	"pdfrag/internal/embedding/hashing"
	"pdfrag/internal/embedding/openai"
	"pdfrag/internal/extract"
	"pdfrag/internal/ingest"
	"pdfrag/internal/resilience"
	"pdfrag/internal/retrieval"
	"pdfrag/internal/service"
	"pdfrag/internal/summarizer"
	"pdfrag/internal/vectorstore"
	"pdfrag/internal/vectorstore/localfile"
	"pdfrag/internal/vectorstore/memory"
	"pdfrag/internal/vectorstore/postgres"
	"pdfrag/internal/vectorstore/qdrant"
	"pdfrag/internal/vectorstore/sqlite"
)

type app struct {
	svc     *service.RAGService
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// build assembles the pipeline. The completion backend is only constructed
// when withCompleter is set, so ingest and status work without an API key.
func build(ctx context.Context, cfg *config.AppConfig, ephemeral, withCompleter bool, logger *slog.Logger) (*app, error) {
	a := &app{}
	emb, err := buildEmbedder(cfg, a, logger)
	if err != nil {
		return nil, err
	}

	storeType := cfg.VectorStore.Type
	if ephemeral {
		storeType = "memory"
	}
	dim := emb.Dimension()
	if dim == 0 && storeType == "postgres" && cfg.VectorStore.Postgres != nil && cfg.VectorStore.Postgres.EnsureSchema {
		if dim, err = learnDimension(ctx, emb, config.Seconds(cfg.Timeouts.EmbeddingSecs)); err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("learned embedding dimension", "embedder", emb.Name(), "dimension", dim)
	}
	st, err := buildStore(ctx, cfg, storeType, dim, a, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	var sum domain.Summarizer
	switch cfg.Summarizer.Type {
	case "frequency", "":
		sum = summarizer.NewFrequencySummarizer()
	default:
		a.Close()
		return nil, fmt.Errorf("unknown summarizer: %s", cfg.Summarizer.Type)
	}

	embedTimeout := config.Seconds(cfg.Timeouts.EmbeddingSecs)
	storeTimeout := config.Seconds(cfg.Timeouts.StoreSecs)
	deps := service.Deps{
		Ingester: ingest.New(extract.Auto{}, chunker.NewWordChunker(cfg.Chunker.ChunkSize), emb, st,
			ingest.Config{EmbedTimeout: embedTimeout, StoreTimeout: storeTimeout}, logger),
		Embedder:            emb,
		Store:               st,
		StoreName:           storeType,
		Summarizer:          sum,
		SummaryMaxSentences: cfg.Summarizer.MaxSentences,
		Logger:              logger,
	}

	if withCompleter {
		comp, err := buildCompleter(cfg, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		mode, err := answer.ParseMode(cfg.Grounding.Mode)
		if err != nil {
			a.Close()
			return nil, err
		}
		ret := retrieval.New(emb, st, retrieval.Config{
			TopK:            cfg.Retrieval.TopK,
			Threshold:       cfg.Retrieval.Threshold,
			SmallCorpusSize: cfg.Retrieval.SmallCorpusSize,
			EmbedTimeout:    embedTimeout,
			StoreTimeout:    storeTimeout,
		}, logger)
		deps.Completer = comp
		deps.Answerer = answer.New(ret, comp, answer.NewValidator(nil, nil), answer.Config{
			Mode: mode,
			TopK: cfg.Retrieval.TopK,
			Options: domain.CompletionOptions{
				Temperature: cfg.Completion.Temperature,
				MaxTokens:   cfg.Completion.MaxTokens,
			},
			Timeout: config.Seconds(cfg.Timeouts.CompletionSecs),
		}, logger)
	}
	a.svc = service.NewRAGService(deps)
	return a, nil
}

// learnDimension embeds a short text once to find the vector width of a
// backend whose model is not in config.KnownEmbeddingDimensions.
func learnDimension(ctx context.Context, emb embedding.Embedder, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	vec, err := emb.Embed(ctx, "dimension check")
	if err != nil {
		return 0, fmt.Errorf("learn embedding dimension: %w", err)
	}
	return len(vec), nil
}

func buildEmbedder(cfg *config.AppConfig, a *app, logger *slog.Logger) (embedding.Embedder, error) {
	var emb embedding.Embedder
	switch cfg.Embedder.Type {
	case "hashing", "":
		emb = hashing.NewEmbedder(cfg.Embedder.Dimension)
	case "openai":
		o := cfg.Embedder.OpenAI
		if o == nil {
			return nil, fmt.Errorf("openai embedder config missing")
		}
		retry := resilience.DefaultRetryConfig()
		retry.MaxRetries = o.MaxRetries
		client, err := openai.NewClient(openai.Config{
			BaseURL:           o.BaseURL,
			APIKeyEnv:         o.APIKeyEnv,
			Model:             o.Model,
			Timeout:           config.Seconds(o.TimeoutSecs),
			Dimension:         cfg.Embedder.Dimension,
			RequestsPerMinute: o.RequestsPerMinute,
			Retry:             retry,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		emb = client
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
	}

	c := cfg.Embedder.Cache
	if c.Size <= 0 && c.RedisAddr == "" {
		return emb, nil
	}
	var rdb *redis.Client
	if c.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		a.closers = append(a.closers, rdb.Close)
	}
	cached, err := cache.New(emb, cache.Config{Size: c.Size, Redis: rdb, TTL: config.Seconds(c.TTLSecs)}, logger)
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	return cached, nil
}

func buildStore(ctx context.Context, cfg *config.AppConfig, storeType string, dim int, a *app, logger *slog.Logger) (vectorstore.Storage, error) {
	storeTimeout := config.Seconds(cfg.Timeouts.StoreSecs)
	switch storeType {
	case "memory":
		return memory.NewStorage(dim), nil
	case "localfile":
		path := localfile.DefaultPath
		if cfg.VectorStore.LocalFile != nil && cfg.VectorStore.LocalFile.Path != "" {
			path = cfg.VectorStore.LocalFile.Path
		}
		st, err := localfile.Open(path)
		if err != nil {
			return nil, err
		}
		logger.Debug("local chunk file", "path", st.Path())
		return st, nil
	case "postgres":
		p := cfg.VectorStore.Postgres
		if p == nil {
			return nil, fmt.Errorf("postgres config missing")
		}
		st, err := postgres.Open(ctx, os.Getenv(p.DSNEnv), postgres.Config{
			Table:          p.Table,
			SearchFunction: p.SearchFunction,
			Dimension:      dim,
			Timeout:        storeTimeout,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, st.Close)
		if p.EnsureSchema {
			if err := st.EnsureSchema(ctx, dim); err != nil {
				return nil, err
			}
		}
		return st, nil
	case "sqlite":
		path := "pdf_chunks.db"
		if cfg.VectorStore.SQLite != nil && cfg.VectorStore.SQLite.Path != "" {
			path = cfg.VectorStore.SQLite.Path
		}
		st, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, st.Close)
		return st, nil
	case "qdrant":
		q := cfg.VectorStore.Qdrant
		if q == nil {
			return nil, fmt.Errorf("qdrant config missing")
		}
		return qdrant.NewStorage(qdrant.Config{
			URL:        q.URL,
			APIKey:     q.APIKey,
			Collection: q.Collection,
			Dimension:  dim,
			Timeout:    storeTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown vector store: %s", storeType)
	}
}

func buildCompleter(cfg *config.AppConfig, logger *slog.Logger) (domain.Completer, error) {
	timeout := config.Seconds(cfg.Timeouts.CompletionSecs)
	var comp domain.Completer
	switch cfg.Completion.Type {
	case "openai":
		o := cfg.Completion.OpenAI
		if o == nil {
			return nil, fmt.Errorf("openai completion config missing")
		}
		retry := resilience.DefaultRetryConfig()
		retry.MaxRetries = o.MaxRetries
		client, err := completionopenai.NewClient(completionopenai.Config{
			BaseURL:   o.BaseURL,
			APIKeyEnv: o.APIKeyEnv,
			Model:     o.Model,
			Timeout:   timeout,
			Retry:     retry,
		})
		if err != nil {
			return nil, fmt.Errorf("completion init failed: %w", err)
		}
		comp = client
	case "ollama":
		o := cfg.Completion.Ollama
		if o == nil {
			return nil, fmt.Errorf("ollama completion config missing")
		}
		comp = completionollama.NewClient(completionollama.Config{BaseURL: o.BaseURL, Model: o.Model, Timeout: timeout})
	default:
		return nil, fmt.Errorf("unknown completion backend: %s", cfg.Completion.Type)
	}
	return completion.NewGuarded(comp, resilience.BreakerConfig{
		ConsecutiveFailures: uint32(cfg.Completion.BreakerFailures),
	}, logger), nil
}
