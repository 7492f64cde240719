package reasoning

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"querygate/internal/logging"
	"querygate/internal/telemetry"
	"querygate/internal/types"
)

// GuardOptions configures a Guard. Zero values disable the matching control.
type GuardOptions struct {
	RequestsPerSecond   float64
	Burst               int
	Timeout             time.Duration
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
	Metrics             *telemetry.Metrics
}

// Guard wraps a provider with a token bucket, a per-call timeout and a
// circuit breaker, and classifies every failure.
type Guard struct {
	inner   Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics *telemetry.Metrics
}

// NewGuard wraps inner.
func NewGuard(inner Client, opts GuardOptions) *Guard {
	g := &Guard{inner: inner, timeout: opts.Timeout, metrics: opts.Metrics}

	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	if opts.ConsecutiveFailures > 0 {
		threshold := opts.ConsecutiveFailures
		g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "reasoning",
			MaxRequests: opts.HalfOpenRequests,
			Timeout:     opts.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				// Caller cancellation and bad payloads say nothing about provider health.
				return err == nil || errors.Is(err, context.Canceled) ||
					isCause(err, types.CauseMalformedResponse)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.ReasoningWarn("circuit %s: %s -> %s", name, from, to)
			},
		})
	}
	return g
}

// Complete runs req through the guard.
func (g *Guard) Complete(ctx context.Context, req Request) (string, error) {
	out, err := g.complete(ctx, req)
	if err != nil {
		err = Classify(req.Task, err)
		cause, _ := types.CauseOf(err)
		g.metrics.CountReasoning(string(req.Task), string(cause))
		logging.Ctx(ctx, logging.CategoryReasoning).Warn("reasoning call failed: " + err.Error())
		return "", err
	}
	g.metrics.CountReasoning(string(req.Task), "ok")
	return out, nil
}

func (g *Guard) complete(ctx context.Context, req Request) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			// The bucket cannot refill before the caller's deadline.
			return "", &types.ExtractionError{Cause: types.CauseRateLimit, Task: string(req.Task), Err: err}
		}
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if g.breaker == nil {
		return g.inner.Complete(ctx, req)
	}
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.Complete(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// State reports the breaker state, or closed when no breaker is configured.
func (g *Guard) State() gobreaker.State {
	if g.breaker == nil {
		return gobreaker.StateClosed
	}
	return g.breaker.State()
}

func isCause(err error, cause types.ExtractionCause) bool {
	c, ok := types.CauseOf(err)
	return ok && c == cause
}
