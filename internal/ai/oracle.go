// Package ai provides the model-backed oracle used by the auto-fix engine.
// It wraps the Anthropic API with retries, a circuit breaker, a concurrency
// limiter, and a client-side rate limiter so a flaky or saturated API never
// cascades into the core loop.
package ai

import (
	"context"
	"os"
)

// Oracle is the minimal completion surface the rest of the system depends
// on. Tests substitute a canned implementation.
type Oracle interface {
	// Complete sends one prompt and returns the model's text response.
	Complete(ctx context.Context, prompt string) (string, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, prompt string) (string, error)

func (f OracleFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

const (
	// ModelDefault is the model used for fix generation.
	ModelDefault = "claude-sonnet-4-5-20250929"

	// ModelSimple is the cost-efficient model for short classification-style
	// prompts.
	ModelSimple = "claude-3-5-haiku-20241022"
)

// DefaultModel returns the completion model, honoring SKILLKEEPER_MODEL.
func DefaultModel() string {
	if model := os.Getenv("SKILLKEEPER_MODEL"); model != "" {
		return model
	}
	return ModelDefault
}
