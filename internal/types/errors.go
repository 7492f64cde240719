package types

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Sentinel errors. Validation failures are never errors; these are caller or
// infrastructure mistakes.
var (
	ErrEmptyNamespace  = errors.New("namespace must not be empty")
	ErrUnknownLanguage = errors.New("unknown query language")
)

// ExtractionCause classifies why a delegated capability failed.
type ExtractionCause string

const (
	CauseAuthentication    ExtractionCause = "authentication"
	CauseRateLimit         ExtractionCause = "rate_limit"
	CauseTimeout           ExtractionCause = "timeout"
	CauseUnavailable       ExtractionCause = "unavailable"
	CauseMalformedResponse ExtractionCause = "malformed_response"
	CauseLowConfidence     ExtractionCause = "low_confidence"
)

// ExtractionError is raised when identifier extraction or a delegated
// semantic judgment cannot be completed.
type ExtractionError struct {
	Cause ExtractionCause
	Task  string
	Err   error
}

func (e *ExtractionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s failed: %s", e.Task, e.Cause)
	}
	return fmt.Sprintf("%s failed: %s: %v", e.Task, e.Cause, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// StoreError wraps a membership store backend failure.
type StoreError struct {
	Op        string
	Namespace Namespace
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("membership store %s(%s): %v", e.Op, e.Namespace, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// GrammarError reports a malformed grammar asset.
type GrammarError struct {
	Grammar string
	Line    int
	Msg     string
}

func (e *GrammarError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("grammar %s:%d: %s", e.Grammar, e.Line, e.Msg)
	}
	return fmt.Sprintf("grammar %s: %s", e.Grammar, e.Msg)
}

// IsInfrastructure reports whether err is one of the infrastructure error classes.
func IsInfrastructure(err error) bool {
	var ee *ExtractionError
	var se *StoreError
	var ge *GrammarError
	return errors.As(err, &ee) || errors.As(err, &se) || errors.As(err, &ge)
}

// CauseOf returns the extraction cause carried by err, if any.
func CauseOf(err error) (ExtractionCause, bool) {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee.Cause, true
	}
	return "", false
}
