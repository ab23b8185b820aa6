package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"pdfrag/internal/domain"
	"pdfrag/internal/vectorstore"
)

// Storage is a minimal REST client to Qdrant.
// It assumes cosine distance and creates the collection on first insert.
type Storage struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
	guard      *vectorstore.DimensionGuard

	mu     sync.Mutex
	ready  bool
	lastID uint64
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	// Dimension pins the vector size; 0 learns it from the first insert.
	Dimension int
	Timeout   time.Duration
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if cfg.URL == "" {
		cfg.URL = "http://localhost:6333"
	}
	if cfg.Collection == "" {
		cfg.Collection = "pdf_chunks"
	}
	return &Storage{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
		guard:      vectorstore.NewDimensionGuard(cfg.Dimension),
	}
}

type httpStatusError struct {
	method, url string
	code        int
	status      string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: %s", e.method, e.url, e.status)
}

func isNotFound(err error) bool {
	var se *httpStatusError
	return errors.As(err, &se) && se.code == http.StatusNotFound
}

func (s *Storage) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

// ensureCollection creates the collection if it does not exist. Caller holds mu.
func (s *Storage) ensureCollection(ctx context.Context, dimension int) error {
	if s.ready {
		return nil
	}
	err := s.do(ctx, http.MethodGet, s.collectionURL(""), nil, nil)
	if isNotFound(err) {
		body := map[string]any{
			"vectors": map[string]any{
				"size":     dimension,
				"distance": "Cosine",
			},
		}
		err = s.do(ctx, http.MethodPut, s.collectionURL(""), body, nil)
	}
	if err != nil {
		return err
	}
	s.ready = true
	return nil
}

// nextID hands out increasing point ids so that scroll order is insertion order.
func (s *Storage) nextID() uint64 {
	id := uint64(time.Now().UnixNano())
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id
}

func (s *Storage) Insert(ctx context.Context, content string, embedding []float32, metadata map[string]any) (int64, error) {
	if err := vectorstore.ValidateInsert(s.guard, content, embedding); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureCollection(ctx, len(embedding)); err != nil {
		return 0, fmt.Errorf("%w: %w", vectorstore.ErrInsertFailed, err)
	}
	id := s.nextID()
	point := map[string]any{
		"id":     id,
		"vector": embedding,
		"payload": map[string]any{
			"content":  content,
			"metadata": metadata,
		},
	}
	body := map[string]any{"points": []any{point}}
	if err := s.do(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), body, nil); err != nil {
		return 0, fmt.Errorf("%w: %w", vectorstore.ErrInsertFailed, err)
	}
	return int64(id), nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	err := s.do(ctx, http.MethodPost, s.collectionURL("/points/count"), map[string]any{"exact": true}, &resp)
	if isNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %w", vectorstore.ErrStoreUnavailable, err)
	}
	return resp.Result.Count, nil
}

type point struct {
	ID      uint64    `json:"id"`
	Score   float64   `json:"score"`
	Vector  []float32 `json:"vector"`
	Payload struct {
		Content  string         `json:"content"`
		Metadata map[string]any `json:"metadata"`
	} `json:"payload"`
}

func (p point) chunk() domain.Chunk {
	meta := p.Payload.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return domain.Chunk{ID: int64(p.ID), Content: p.Payload.Content, Embedding: p.Vector, Metadata: meta}
}

// FetchAll pages through the collection with the scroll API.
func (s *Storage) FetchAll(ctx context.Context) ([]domain.Chunk, error) {
	var out []domain.Chunk
	var offset any
	for {
		req := map[string]any{
			"limit":        256,
			"with_payload": true,
			"with_vector":  true,
		}
		if offset != nil {
			req["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points         []point `json:"points"`
				NextPageOffset any     `json:"next_page_offset"`
			} `json:"result"`
		}
		err := s.do(ctx, http.MethodPost, s.collectionURL("/points/scroll"), req, &resp)
		if isNotFound(err) {
			return []domain.Chunk{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", vectorstore.ErrStoreUnavailable, err)
		}
		for _, p := range resp.Result.Points {
			out = append(out, p.chunk())
		}
		if resp.Result.NextPageOffset == nil {
			break
		}
		offset = resp.Result.NextPageOffset
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Storage) Search(ctx context.Context, vector []float32, topK int, threshold float64) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if t := vectorstore.ResolveThreshold(threshold); !math.IsInf(t, -1) {
		req["score_threshold"] = t
	}
	var resp struct {
		Result []point `json:"result"`
	}
	err := s.do(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vectorstore.ErrStoreUnavailable, err)
	}
	results := make([]domain.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, domain.SearchResult{Chunk: r.chunk(), Score: r.Score})
	}
	return results, nil
}

// Clear drops the collection; it is recreated on the next insert.
func (s *Storage) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.do(ctx, http.MethodDelete, s.collectionURL(""), nil, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("%w: %w", vectorstore.ErrStoreUnavailable, err)
	}
	s.ready = false
	s.guard.Set(0)
	return nil
}

func (s *Storage) do(ctx context.Context, method, url string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &httpStatusError{method: method, url: url, code: resp.StatusCode, status: resp.Status}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
