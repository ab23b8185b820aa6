// Package ollama talks to a local Ollama server's native chat endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pdfrag/internal/completion"
	"pdfrag/internal/domain"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "gemma:2b"
)

type Config struct {
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	model   string
	timeout time.Duration
	client  *http.Client
}

func NewClient(cfg Config) *Client {
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
	return &Client{baseURL: strings.TrimRight(cfg.BaseURL, "/"), model: cfg.Model, timeout: cfg.Timeout, client: hc}
}

func (c *Client) Name() string { return "ollama:" + c.model }

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatRequest struct {
	Model    string           `json:"model"`
	Messages []domain.Message `json:"messages"`
	Stream   bool             `json:"stream"`
	Options  chatOptions      `json:"options"`
}

type chatResponse struct {
	Message domain.Message `json:"message"`
	Error   string         `json:"error"`
}

// Complete calls POST /api/chat with streaming disabled.
func (c *Client) Complete(ctx context.Context, messages []domain.Message, opts domain.CompletionOptions) (string, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}
	data, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: messages,
		Options:  chatOptions{Temperature: opts.Temperature, NumPredict: opts.MaxTokens},
	})
	if err != nil {
		return "", completion.Failed(c.Name(), err)
	}
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return "", completion.Failed(c.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", completion.Failed(c.Name(), err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", completion.Failed(c.Name(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", completion.Failed(c.Name(), &completion.StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(payload))})
	}
	var parsed chatResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", completion.Failed(c.Name(), fmt.Errorf("decode response: %w", err))
	}
	if parsed.Error != "" {
		return "", completion.Failed(c.Name(), errors.New(parsed.Error))
	}
	return strings.TrimSpace(parsed.Message.Content), nil
}
