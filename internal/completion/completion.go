// Package completion defines the chat completion backend contract, its
// failure types and a circuit-breaking decorator.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"pdfrag/internal/domain"
	"pdfrag/internal/resilience"
)

// ErrCompletionFailed marks any failure of a completion backend.
var ErrCompletionFailed = errors.New("completion backend failed")

// StatusError is a non-2xx reply from a completion backend.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion backend returned %d: %s", e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrCompletionFailed }

// Failed wraps err so that errors.Is(err, ErrCompletionFailed) holds.
func Failed(backend string, err error) error {
	if errors.Is(err, ErrCompletionFailed) {
		return fmt.Errorf("%s: %w", backend, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrCompletionFailed, backend, err)
}

// Guarded runs a completer behind a circuit breaker.
type Guarded struct {
	next    domain.Completer
	breaker *resilience.Breaker
}

// NewGuarded wraps next with a breaker named after it.
func NewGuarded(next domain.Completer, cfg resilience.BreakerConfig, logger *slog.Logger) *Guarded {
	if cfg.Name == "" {
		cfg.Name = "completion:" + next.Name()
	}
	return &Guarded{next: next, breaker: resilience.NewBreaker(cfg, logger)}
}

func (g *Guarded) Name() string { return g.next.Name() }

func (g *Guarded) Complete(ctx context.Context, messages []domain.Message, opts domain.CompletionOptions) (string, error) {
	var out string
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		text, err := g.next.Complete(ctx, messages, opts)
		out = text
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return "", Failed(g.next.Name(), err)
	}
	return out, err
}
