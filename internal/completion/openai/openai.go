// Package openai is a client for OpenAI-compatible chat completion APIs
// such as Groq.
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
	"strings"
	"time"

	"pdfrag/internal/completion"
	"pdfrag/internal/domain"
	"pdfrag/internal/resilience"
)

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "meta-llama/llama-4-scout-17b-16e-instruct"
	DefaultKeyEnv  = "GROQ_API_KEY"
)

type Config struct {
	BaseURL    string
	APIKeyEnv  string
	Model      string
	Timeout    time.Duration
	Retry      resilience.RetryConfig
	HTTPClient *http.Client
}

// Client calls POST {base_url}/chat/completions.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
	retry   resilience.RetryConfig
	client  *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = DefaultKeyEnv
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  key,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		retry:   cfg.Retry,
		client:  hc,
	}, nil
}

func (c *Client) Name() string { return "openai:" + c.model }

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []domain.Message `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message domain.Message `json:"message"`
	} `json:"choices"`
}

// Complete sends messages and returns the first choice's content. Rate limits
// and server errors are retried; other failures are returned as
// completion.ErrCompletionFailed, non-2xx replies as *completion.StatusError.
func (c *Client) Complete(ctx context.Context, messages []domain.Message, opts domain.CompletionOptions) (string, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}
	data, err := json.Marshal(chatRequest{Model: model, Messages: messages, Temperature: opts.Temperature, MaxTokens: opts.MaxTokens})
	if err != nil {
		return "", completion.Failed(c.Name(), err)
	}
	var out string
	err = resilience.Retry(ctx, c.retry, func() error {
		text, err := c.once(ctx, data)
		if err != nil {
			return err
		}
		out = text
		return nil
	})
	if err != nil {
		return "", completion.Failed(c.Name(), err)
	}
	return out, nil
}

func (c *Client) once(ctx context.Context, body []byte) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", resilience.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", resilience.Permanent(ctx.Err())
		}
		return "", err
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &completion.StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", se
		}
		return "", resilience.Permanent(se)
	}
	if readErr != nil {
		return "", readErr
	}
	var parsed chatResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", resilience.Permanent(fmt.Errorf("decode response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return "", resilience.Permanent(errors.New("no choices returned"))
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
