// Package answer builds a grounded prompt from retrieved chunks, calls the
// completion backend and checks the reply against its context. Every
// failure on the query path becomes the Refusal sentence.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pdfrag/internal/domain"
	"pdfrag/internal/retrieval"
)

// Refusal is returned whenever no grounded answer can be produced. Its
// wording is matched by the grounding check, so it must stay stable.
const Refusal = "The context does not provide the answer to the question. Therefore, I cannot answer this question from the context."

const (
	refusalPrefix = "The context does not provide the answer"
	refusalMarker = "context does not provide"
)

const systemPrompt = "You are a helpful assistant. Answer questions based on the provided PDF content. Be helpful and informative when the content contains relevant information."

const userPromptFormat = `Here is content from a PDF document:

%s

Question: %s

Please provide a helpful answer based on the information above. Use the specific details and examples shown in the document to give a comprehensive response.

Answer:`

// IsRefusal reports whether text declines to answer from context.
func IsRefusal(text string) bool {
	return strings.Contains(strings.ToLower(text), refusalMarker)
}

// BuildMessages returns the system and user messages for a question.
func BuildMessages(contextBlock, query string) []domain.Message {
	return []domain.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf(userPromptFormat, contextBlock, query)},
	}
}

// Mode selects what happens when the grounding check rejects an answer.
type Mode string

const (
	// ModeObserve logs the rejection and returns the answer anyway.
	ModeObserve Mode = "observe"
	// ModeEnforce replaces a rejected answer with Refusal.
	ModeEnforce Mode = "enforce"
)

// ParseMode accepts "observe", "enforce" or "" (observe).
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeObserve:
		return ModeObserve, nil
	case ModeEnforce:
		return ModeEnforce, nil
	default:
		return "", fmt.Errorf("unknown grounding mode %q", s)
	}
}

// Retriever supplies candidate chunk texts for a question.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) (retrieval.Result, error)
}

type Config struct {
	Mode    Mode
	TopK    int
	Options domain.CompletionOptions
	Timeout time.Duration
}

// Response is the detailed outcome of one question.
type Response struct {
	Text     string
	Tier     retrieval.Tier
	Chunks   int
	Refused  bool
	Grounded bool
}

type Answerer struct {
	retriever Retriever
	completer domain.Completer
	validator *Validator
	cfg       Config
	logger    *slog.Logger
}

func New(retriever Retriever, completer domain.Completer, validator *Validator, cfg Config, logger *slog.Logger) *Answerer {
	if validator == nil {
		validator = NewValidator(nil, nil)
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeObserve
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Answerer{retriever: retriever, completer: completer, validator: validator, cfg: cfg, logger: logger}
}

// Answer returns the generated answer or Refusal. It never returns an error.
func (a *Answerer) Answer(ctx context.Context, query string) string {
	return a.Ask(ctx, query).Text
}

// Ask is Answer with retrieval and grounding details.
func (a *Answerer) Ask(ctx context.Context, query string) Response {
	res, err := a.retriever.Retrieve(ctx, query, a.cfg.TopK)
	if err != nil {
		a.logger.Warn("retrieval failed", "error", err)
		return refused(res.Tier)
	}
	if len(res.Contents) == 0 {
		a.logger.Info("no relevant chunks", "tier", res.Tier)
		return refused(res.Tier)
	}
	contextBlock := strings.Join(res.Contents, "\n")
	a.logger.Debug("using context", "retrieval", res.Describe(), "chars", len(contextBlock))

	cctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	text, err := a.completer.Complete(cctx, BuildMessages(contextBlock, query), a.cfg.Options)
	if err != nil {
		a.logger.Error("completion failed", "backend", a.completer.Name(), "error", err)
		return refused(res.Tier)
	}

	resp := Response{Text: text, Tier: res.Tier, Chunks: len(res.Contents), Grounded: true}
	if IsRefusal(text) {
		resp.Refused = true
		return resp
	}
	if a.validator.IsGrounded(text, contextBlock) {
		return resp
	}
	resp.Grounded = false
	if a.cfg.Mode == ModeEnforce {
		a.logger.Warn("answer not grounded in context, refusing", "tier", res.Tier)
		resp.Text = Refusal
		resp.Refused = true
		return resp
	}
	a.logger.Warn("answer may go beyond the document context", "tier", res.Tier)
	return resp
}

func refused(tier retrieval.Tier) Response {
	return Response{Text: Refusal, Tier: tier, Refused: true, Grounded: true}
}
