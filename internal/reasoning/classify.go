package reasoning

import (
	"context"
	"net"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"google.golang.org/genai"

	"querygate/internal/types"
)

// Classify maps a provider or guard failure onto an ExtractionError.
// Errors that are already classified pass through unchanged.
func Classify(task Task, err error) error {
	if err == nil {
		return nil
	}
	var ee *types.ExtractionError
	if errors.As(err, &ee) {
		return err
	}
	return &types.ExtractionError{Cause: causeOf(err), Task: string(task), Err: err}
}

func malformed(task Task, err error) error {
	return &types.ExtractionError{Cause: types.CauseMalformedResponse, Task: string(task), Err: err}
}

func causeOf(err error) types.ExtractionCause {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return types.CauseTimeout
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.CauseUnavailable
	}
	if status, ok := httpStatus(err); ok {
		return causeForStatus(status)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.CauseTimeout
	}
	return types.CauseUnavailable
}

func causeForStatus(status int) types.ExtractionCause {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.CauseAuthentication
	case status == http.StatusTooManyRequests:
		return types.CauseRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return types.CauseTimeout
	default:
		return types.CauseUnavailable
	}
}

func httpStatus(err error) (int, bool) {
	var gemErr genai.APIError
	if errors.As(err, &gemErr) {
		return gemErr.Code, true
	}
	var oaErr *openai.APIError
	if errors.As(err, &oaErr) {
		return oaErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode, true
	}
	return 0, false
}
