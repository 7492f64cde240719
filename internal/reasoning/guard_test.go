package reasoning

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querygate/internal/telemetry"
	"querygate/internal/types"
)

func failing(calls *int32, err error) Client {
	return ClientFunc(func(ctx context.Context, req Request) (string, error) {
		atomic.AddInt32(calls, 1)
		return "", err
	})
}

func causeOfErr(t *testing.T, err error) types.ExtractionCause {
	t.Helper()
	cause, ok := types.CauseOf(err)
	require.True(t, ok, "expected ExtractionError, got %v", err)
	return cause
}

func TestGuardPassesThrough(t *testing.T) {
	g := NewGuard(ClientFunc(func(ctx context.Context, req Request) (string, error) {
		return `{"task":"` + string(req.Task) + `"}`, nil
	}), GuardOptions{Metrics: telemetry.NewMetrics(prometheus.NewRegistry())})

	out, err := g.Complete(context.Background(), Request{Task: TaskExplainQuery})
	require.NoError(t, err)
	assert.Equal(t, `{"task":"explain_query"}`, out)
}

func TestGuardBreakerTrips(t *testing.T) {
	var calls int32
	g := NewGuard(failing(&calls, errors.New("connection refused")), GuardOptions{
		ConsecutiveFailures: 3,
		OpenTimeout:         time.Minute,
		HalfOpenRequests:    1,
	})

	for i := 0; i < 3; i++ {
		_, err := g.Complete(context.Background(), Request{Task: TaskExplainQuery})
		assert.Equal(t, types.CauseUnavailable, causeOfErr(t, err))
	}
	assert.Equal(t, gobreaker.StateOpen, g.State())

	_, err := g.Complete(context.Background(), Request{Task: TaskExplainQuery})
	assert.Equal(t, types.CauseUnavailable, causeOfErr(t, err))
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "open breaker must not reach the provider")
}

func TestGuardMalformedDoesNotTrip(t *testing.T) {
	var calls int32
	g := NewGuard(failing(&calls, malformed(TaskExtractIdentifiers, errors.New("empty"))), GuardOptions{
		ConsecutiveFailures: 1,
		OpenTimeout:         time.Minute,
	})
	for i := 0; i < 3; i++ {
		_, err := g.Complete(context.Background(), Request{Task: TaskExtractIdentifiers})
		assert.Equal(t, types.CauseMalformedResponse, causeOfErr(t, err))
	}
	assert.Equal(t, gobreaker.StateClosed, g.State())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGuardTimeout(t *testing.T) {
	g := NewGuard(ClientFunc(func(ctx context.Context, req Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}), GuardOptions{Timeout: 10 * time.Millisecond})

	_, err := g.Complete(context.Background(), Request{Task: TaskExplainQuery})
	assert.Equal(t, types.CauseTimeout, causeOfErr(t, err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestGuardRateLimitBeforeDeadline(t *testing.T) {
	var calls int32
	ok := ClientFunc(func(ctx context.Context, req Request) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "{}", nil
	})
	g := NewGuard(ok, GuardOptions{RequestsPerSecond: 0.01, Burst: 1})

	_, err := g.Complete(context.Background(), Request{Task: TaskExtractIdentifiers})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = g.Complete(ctx, Request{Task: TaskExtractIdentifiers})
	assert.Equal(t, types.CauseRateLimit, causeOfErr(t, err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
