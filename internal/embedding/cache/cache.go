// Package cache memoizes embeddings in an in-process LRU with an optional
// shared Redis tier.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"

	"pdfrag/internal/domain"
)

// Config configures the caching embedder.
type Config struct {
	// Size is the number of vectors kept in process.
	Size int
	// Redis, when non-nil, is consulted after a local miss.
	Redis     *redis.Client
	TTL       time.Duration
	KeyPrefix string
}

// Embedder decorates another embedder with caching. Cache failures never fail
// an Embed call; they are logged and the wrapped embedder is used.
type Embedder struct {
	next   domain.Embedder
	local  *lru.Cache[string, []float32]
	redis  *redis.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// New wraps next with a cache.
func New(next domain.Embedder, cfg Config, logger *slog.Logger) (*Embedder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Size <= 0 {
		cfg.Size = 1024
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "pdfrag:emb:"
	}
	local, err := lru.New[string, []float32](cfg.Size)
	if err != nil {
		return nil, err
	}
	return &Embedder{
		next:   next,
		local:  local,
		redis:  cfg.Redis,
		ttl:    cfg.TTL,
		prefix: cfg.KeyPrefix,
		logger: logger,
	}, nil
}

// Name returns the wrapped embedder's name.
func (e *Embedder) Name() string { return e.next.Name() }

// Dimension returns the wrapped embedder's dimension.
func (e *Embedder) Dimension() int { return e.next.Dimension() }

// Embed returns a cached vector or computes and stores one.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := e.key(text)
	if v, ok := e.local.Get(key); ok {
		return clone(v), nil
	}
	if v, ok := e.fromRedis(ctx, key); ok {
		e.local.Add(key, v)
		return clone(v), nil
	}
	v, err := e.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.local.Add(key, clone(v))
	e.toRedis(ctx, key, v)
	return v, nil
}

// Len reports how many vectors are held in process.
func (e *Embedder) Len() int { return e.local.Len() }

func (e *Embedder) key(text string) string {
	h := sha256.Sum256([]byte(e.next.Name() + ":" + text))
	return e.prefix + hex.EncodeToString(h[:])
}

func (e *Embedder) fromRedis(ctx context.Context, key string) ([]float32, bool) {
	if e.redis == nil {
		return nil, false
	}
	data, err := e.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			e.logger.Warn("embedding cache get failed", "error", err)
		}
		return nil, false
	}
	var v []float32
	if err := json.Unmarshal(data, &v); err != nil {
		e.logger.Warn("embedding cache entry invalid", "error", err)
		return nil, false
	}
	return v, true
}

func (e *Embedder) toRedis(ctx context.Context, key string, v []float32) {
	if e.redis == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := e.redis.Set(ctx, key, data, e.ttl).Err(); err != nil {
		e.logger.Warn("embedding cache set failed", "error", err)
	}
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
