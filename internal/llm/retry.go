package llm

import (
	"context"
	"log"
	"time"
)

// Retrying wraps a Provider with at most one retry for transient failures.
// Model-missing, malformed and timeout errors are returned immediately.
type Retrying struct {
	Provider
	Backoff time.Duration
}

// WithRetry returns p wrapped with a single bounded retry.
func WithRetry(p Provider, backoff time.Duration) *Retrying {
	return &Retrying{Provider: p, Backoff: backoff}
}

// Complete calls the wrapped provider, retrying once after Backoff when the
// first error is transient and ctx is still live.
func (r *Retrying) Complete(ctx context.Context, systemPrompt, userPrompt string, opts Options) (string, error) {
	text, err := r.Provider.Complete(ctx, systemPrompt, userPrompt, opts)
	if err == nil || !IsTransient(err) {
		return text, err
	}

	log.Printf("Transient LLM error, retrying once: %v", err)
	timer := time.NewTimer(r.Backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", transportError("retry", ctx.Err())
	case <-timer.C:
	}
	return r.Provider.Complete(ctx, systemPrompt, userPrompt, opts)
}
