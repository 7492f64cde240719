package types

import "github.com/cockroachdb/errors"

// SyntaxValidationResult is the outcome of the syntax stage.
// On success every field other than IsValid is zero.
type SyntaxValidationResult struct {
	IsValid        bool   `json:"is_valid"`
	ErrorMessage   string `json:"error_message,omitempty"`
	Line           int    `json:"line,omitempty"`
	Column         int    `json:"column,omitempty"`
	ContextSnippet string `json:"context_snippet,omitempty"`
}

// SchemaValidationResult is the outcome of the schema stage.
type SchemaValidationResult struct {
	IsValid            bool     `json:"is_valid"`
	InvalidIdentifiers []string `json:"invalid_identifiers,omitempty"`
	ErrorMessage       string   `json:"error_message,omitempty"`
}

// SemanticValidationResult is the outcome of the semantic stage.
// IntentMatch and PartialMatch are never both true.
type SemanticValidationResult struct {
	IntentMatch     bool    `json:"intent_match"`
	PartialMatch    bool    `json:"partial_match"`
	Confidence      float64 `json:"confidence"`
	Explanation     string  `json:"explanation"`
	IntentSummary   string  `json:"intent_summary"`
	BehaviorSummary string  `json:"behavior_summary"`
}

// ErrInvalidVerdict is returned when a full and a partial match are requested together.
var ErrInvalidVerdict = errors.New("intent_match and partial_match cannot both be true")

// NewSemanticResult is the only way the semantic stage builds a result.
func NewSemanticResult(intentMatch, partialMatch bool, confidence float64, explanation, intentSummary, behaviorSummary string) (SemanticValidationResult, error) {
	if intentMatch && partialMatch {
		return SemanticValidationResult{}, ErrInvalidVerdict
	}
	switch {
	case confidence < 0:
		confidence = 0
	case confidence > 1:
		confidence = 1
	}
	return SemanticValidationResult{
		IntentMatch:     intentMatch,
		PartialMatch:    partialMatch,
		Confidence:      confidence,
		Explanation:     explanation,
		IntentSummary:   intentSummary,
		BehaviorSummary: behaviorSummary,
	}, nil
}

// Passed reports whether the semantic stage lets the query through.
func (r SemanticValidationResult) Passed() bool { return r.IntentMatch }

// StageResult carries exactly one sub-result, selected by Stage.
type StageResult struct {
	Stage    Stage                     `json:"stage"`
	Syntax   *SyntaxValidationResult   `json:"syntax,omitempty"`
	Schema   *SchemaValidationResult   `json:"schema,omitempty"`
	Semantic *SemanticValidationResult `json:"semantic,omitempty"`
}

// Passed reports whether this stage let the query through.
func (s StageResult) Passed() bool {
	switch {
	case s.Syntax != nil:
		return s.Syntax.IsValid
	case s.Schema != nil:
		return s.Schema.IsValid
	case s.Semantic != nil:
		return s.Semantic.Passed()
	}
	return false
}

// ValidationReport aggregates the stages actually executed for one query.
type ValidationReport struct {
	Language  QueryLanguage `json:"language"`
	Namespace Namespace     `json:"namespace"`
	Stages    []StageResult `json:"stages"`
	IsValid   bool          `json:"is_valid"`
	StoppedAt Stage         `json:"stopped_at,omitempty"`
}

// Stage returns the result for stage s, if it ran.
func (r ValidationReport) Stage(s Stage) (StageResult, bool) {
	for _, st := range r.Stages {
		if st.Stage == s {
			return st, true
		}
	}
	return StageResult{}, false
}
