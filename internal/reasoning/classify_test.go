package reasoning

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"querygate/internal/types"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.ExtractionCause
	}{
		{"deadline", context.DeadlineExceeded, types.CauseTimeout},
		{"wrapped deadline", errors.Wrap(context.DeadlineExceeded, "gemini explain_query"), types.CauseTimeout},
		{"canceled", context.Canceled, types.CauseTimeout},
		{"breaker open", gobreaker.ErrOpenState, types.CauseUnavailable},
		{"breaker half open", gobreaker.ErrTooManyRequests, types.CauseUnavailable},
		{"gemini 401", errors.Wrap(genai.APIError{Code: 401}, "gemini"), types.CauseAuthentication},
		{"gemini 429", genai.APIError{Code: 429}, types.CauseRateLimit},
		{"gemini 503", genai.APIError{Code: 503}, types.CauseUnavailable},
		{"openai 403", &openai.APIError{HTTPStatusCode: 403}, types.CauseAuthentication},
		{"openai 429", &openai.APIError{HTTPStatusCode: 429}, types.CauseRateLimit},
		{"openai 504", &openai.RequestError{HTTPStatusCode: 504, Err: errors.New("gateway")}, types.CauseTimeout},
		{"openai 500", &openai.RequestError{HTTPStatusCode: 500, Err: errors.New("boom")}, types.CauseUnavailable},
		{"unknown", errors.New("connection reset"), types.CauseUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify(TaskExplainQuery, tt.err)
			cause, ok := types.CauseOf(err)
			require.True(t, ok)
			assert.Equal(t, tt.want, cause)
			assert.True(t, types.IsInfrastructure(err))
		})
	}
}

func TestClassifyKeepsExistingCause(t *testing.T) {
	orig := malformed(TaskExtractIdentifiers, errors.New("not json"))
	assert.Same(t, orig, Classify(TaskExtractIdentifiers, orig))
	assert.NoError(t, Classify(TaskExtractIdentifiers, nil))
}

func TestSystemPrompts(t *testing.T) {
	assert.Contains(t, SystemPrompt(TaskExtractIdentifiers), `"identifiers"`)
	assert.Contains(t, SystemPrompt(TaskExplainQuery), `"intent_match"`)
	assert.Panics(t, func() { SystemPrompt("translate") })
}
