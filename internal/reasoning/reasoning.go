// Package reasoning is the delegated reasoning capability used by identifier
// extraction and semantic judgment. Providers return raw JSON text; callers
// own the response shape.
package reasoning

import (
	"context"

	"github.com/cockroachdb/errors"

	"querygate/internal/config"
	"querygate/internal/telemetry"
)

// Task names the kind of judgment requested.
type Task string

const (
	TaskExtractIdentifiers Task = "extract_identifiers"
	TaskExplainQuery       Task = "explain_query"
)

// Request is one reasoning call.
type Request struct {
	Task   Task
	System string
	User   string
}

// Client completes reasoning requests. Errors from Complete are always
// *types.ExtractionError once they leave a Guard.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (string, error)

func (f ClientFunc) Complete(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// New builds the configured provider wrapped in a Guard.
func New(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics) (*Guard, error) {
	var (
		provider Client
		err      error
	)
	switch cfg.Reasoning.Provider {
	case "gemini":
		provider, err = NewGeminiClient(ctx, cfg.Reasoning)
	case "openai":
		provider, err = NewOpenAIClient(cfg.Reasoning)
	default:
		return nil, errors.Newf("unknown reasoning provider %q", cfg.Reasoning.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewGuard(provider, GuardOptions{
		RequestsPerSecond:   cfg.Reasoning.RequestsPerSecond,
		Burst:               cfg.Reasoning.Burst,
		Timeout:             cfg.GetReasoningTimeout(),
		ConsecutiveFailures: cfg.Reasoning.Breaker.ConsecutiveFailures,
		OpenTimeout:         cfg.GetBreakerOpenTimeout(),
		HalfOpenRequests:    cfg.Reasoning.Breaker.HalfOpenRequests,
		Metrics:             metrics,
	}), nil
}
