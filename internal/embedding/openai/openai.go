package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"pdfrag/internal/embedding"
	"pdfrag/internal/resilience"
)

// Client is an OpenAI-compatible embeddings client implementing domain.Embedder.
// It also understands the Ollama-native response shape.
type Client struct {
	baseURL   string
	apiKey    string
	model     string
	timeout   time.Duration
	dimension atomic.Int64
	client    *http.Client
	retry     resilience.RetryConfig
	limiter   *rate.Limiter
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
	// Dimension is the expected vector width; 0 learns it from the first reply.
	Dimension int
	// RequestsPerMinute caps outbound calls; 0 disables limiting.
	RequestsPerMinute int
	Retry             resilience.RetryConfig
	HTTPClient        *http.Client
}

// NewClient creates a new embeddings client using the provided configuration.
// An empty APIKeyEnv allows keyless local servers such as Ollama.
func NewClient(cfg Config) (*Client, error) {
	var key string
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
		}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	c := &Client{
		baseURL: cfg.BaseURL,
		apiKey:  key,
		model:   cfg.Model,
		timeout: t,
		client:  hc,
		retry:   cfg.Retry,
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}
	c.dimension.Store(int64(cfg.Dimension))
	return c, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai:" + c.model }

// Dimension returns the dimensionality of the produced embedding vectors.
func (c *Client) Dimension() int { return int(c.dimension.Load()) }

type statusError struct {
	status string
	code   int
}

func (e *statusError) Error() string { return "openai embeddings failed: " + e.status }

// Embed returns an embedding vector for the given text. Every failure is
// reported as embedding.ErrEmbeddingUnavailable.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, embedding.Unavailable(c.Name(), err)
		}
	}
	var out []float32
	err := resilience.Retry(ctx, c.retry, func() error {
		v, err := c.embedOnce(ctx, text)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, embedding.Unavailable(c.Name(), err)
	}
	want := c.Dimension()
	if want == 0 {
		c.dimension.CompareAndSwap(0, int64(len(out)))
	} else if len(out) != want {
		return nil, embedding.Unavailable(c.Name(), fmt.Errorf("got %d dimensions, want %d", len(out), want))
	}
	return out, nil
}

func (c *Client) embedOnce(ctx context.Context, text string) ([]float32, error) {
	type reqBody struct {
		Input  string `json:"input,omitempty"`
		Prompt string `json:"prompt,omitempty"`
		Model  string `json:"model"`
	}
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := json.Marshal(reqBody{Input: text, Prompt: text, Model: c.model})
	if err != nil {
		return nil, resilience.Permanent(err)
	}
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, resilience.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, resilience.Permanent(ctx.Err())
		}
		return nil, err
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		// Respect Retry-After if provided
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			if err := resilience.Sleep(ctx, time.Duration(secs)*time.Second); err != nil {
				return nil, resilience.Permanent(err)
			}
		}
		return nil, &statusError{status: resp.Status, code: resp.StatusCode}
	}
	if resp.StatusCode >= 300 {
		return nil, resilience.Permanent(&statusError{status: resp.Status, code: resp.StatusCode})
	}
	if readErr != nil {
		return nil, readErr
	}

	// Try OpenAI-compatible response first
	var openaiOut struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &openaiOut); err == nil {
		if len(openaiOut.Data) > 0 && len(openaiOut.Data[0].Embedding) > 0 {
			return openaiOut.Data[0].Embedding, nil
		}
	}
	// Fallback to Ollama-native shape: { "embedding": [...] }
	var ollamaOut struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(payload, &ollamaOut); err == nil && len(ollamaOut.Embedding) > 0 {
		return ollamaOut.Embedding, nil
	}
	return nil, errors.New("no embedding returned")
}
