// Package extract pulls candidate identifiers out of query text. Whether the
// identifiers exist is the schema stage's business, not this package's.
package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"

	"querygate/internal/config"
	"querygate/internal/grammar"
	"querygate/internal/reasoning"
	"querygate/internal/types"
)

// Extractor returns the identifiers an expression references.
type Extractor interface {
	Extract(ctx context.Context, lang types.QueryLanguage, expression string) (types.IdentifierSet, error)
}

// MaxIdentifierLength bounds a single identifier.
const MaxIdentifierLength = 256

var validIdentifier = regexp.MustCompile(`^[a-z0-9._]+$`)

// Normalize lowercases raw, strips one layer of quoting and reports whether
// the result is an acceptable identifier.
func Normalize(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if len(s) >= 2 && s[0] == s[len(s)-1] && strings.ContainsRune("\"'`", rune(s[0])) {
		s = s[1 : len(s)-1]
	}
	s = strings.ToLower(s)
	if s == "" || len(s) > MaxIdentifierLength || !validIdentifier.MatchString(s) {
		return "", false
	}
	return s, true
}

// normalizeAll keeps the acceptable identifiers and returns the dropped ones.
func normalizeAll(raw []string) (kept, dropped []string) {
	for _, r := range raw {
		if id, ok := Normalize(r); ok {
			kept = append(kept, id)
		} else {
			dropped = append(dropped, r)
		}
	}
	return kept, dropped
}

// New selects the extractor named by cfg.Strategy.
func New(cfg config.ExtractionConfig, reg *grammar.Registry, client reasoning.Client) (Extractor, error) {
	switch cfg.Strategy {
	case "", "ast":
		return NewASTExtractor(reg), nil
	case "delegated":
		if client == nil {
			return nil, errors.New("delegated extraction needs a reasoning client")
		}
		return NewDelegatedExtractor(client, cfg.MinConfidence), nil
	default:
		return nil, errors.Newf("unknown extraction strategy %q", cfg.Strategy)
	}
}
