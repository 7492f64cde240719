// Package types holds the value objects shared by every validation stage.
// Results are created fresh per validation call and never mutated afterwards.
package types

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// =============================================================================
// QUERY LANGUAGES
// =============================================================================

// QueryLanguage selects the grammar, extractor and identifier kind for a query.
type QueryLanguage string

const (
	LanguagePromQL    QueryLanguage = "promql"
	LanguageLogQL     QueryLanguage = "logql"
	LanguageSearchDSL QueryLanguage = "searchdsl"
	LanguageGraphDSL  QueryLanguage = "graphdsl"
)

// Languages lists every supported language in a stable order.
var Languages = []QueryLanguage{LanguagePromQL, LanguageLogQL, LanguageSearchDSL, LanguageGraphDSL}

var languageAliases = map[string]QueryLanguage{
	"promql":    LanguagePromQL,
	"logql":     LanguageLogQL,
	"searchdsl": LanguageSearchDSL,
	"spl":       LanguageSearchDSL,
	"splunk":    LanguageSearchDSL,
	"graphdsl":  LanguageGraphDSL,
	"cypher":    LanguageGraphDSL,
}

// ParseLanguage resolves a user supplied language name.
func ParseLanguage(name string) (QueryLanguage, error) {
	if lang, ok := languageAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return lang, nil
	}
	return "", errors.Wrapf(ErrUnknownLanguage, "%q", name)
}

// DisplayName is the human readable name used in error messages.
func (l QueryLanguage) DisplayName() string {
	switch l {
	case LanguagePromQL:
		return "PromQL"
	case LanguageLogQL:
		return "LogQL"
	case LanguageSearchDSL:
		return "SearchDSL"
	case LanguageGraphDSL:
		return "GraphDSL"
	default:
		return string(l)
	}
}

// Valid reports whether l is one of the closed set of languages.
func (l QueryLanguage) Valid() bool {
	for _, known := range Languages {
		if l == known {
			return true
		}
	}
	return false
}

// =============================================================================
// NAMESPACES AND IDENTIFIERS
// =============================================================================

// Namespace scopes every membership lookup, e.g. "production:order-service".
type Namespace string

// Check returns ErrEmptyNamespace for a blank namespace.
func (n Namespace) Check() error {
	if strings.TrimSpace(string(n)) == "" {
		return ErrEmptyNamespace
	}
	return nil
}

// IdentifierSet is a deduplicated, case-normalized set of candidate identifiers.
type IdentifierSet struct {
	Values     []string `json:"values"`
	Confidence float64  `json:"confidence"`
}

// NewIdentifierSet lowercases, deduplicates and sorts values.
// Confidence is clamped to [0,1].
func NewIdentifierSet(values []string, confidence float64) IdentifierSet {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(v)
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	switch {
	case confidence < 0:
		confidence = 0
	case confidence > 1:
		confidence = 1
	}
	return IdentifierSet{Values: out, Confidence: confidence}
}

// Len returns the number of identifiers.
func (s IdentifierSet) Len() int { return len(s.Values) }

// IsEmpty reports whether the set has no identifiers.
func (s IdentifierSet) IsEmpty() bool { return len(s.Values) == 0 }

// =============================================================================
// STAGES
// =============================================================================

// Stage names a validation stage.
type Stage string

const (
	StageNone     Stage = ""
	StageSyntax   Stage = "syntax"
	StageSchema   Stage = "schema"
	StageSemantic Stage = "semantic"
)
