package extract

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"querygate/internal/grammar"
	"querygate/internal/logging"
	"querygate/internal/types"
)

// ASTExtractor reads identifiers from the grammar's identifier rules. It is
// exact, so confidence is always 1.
type ASTExtractor struct {
	registry *grammar.Registry
}

// NewASTExtractor returns an extractor over reg; nil uses the embedded grammars.
func NewASTExtractor(reg *grammar.Registry) *ASTExtractor {
	if reg == nil {
		reg = grammar.Default()
	}
	return &ASTExtractor{registry: reg}
}

// Extract parses expression and collects its identifiers. An expression that
// does not parse is an error; run the syntax stage first.
func (e *ASTExtractor) Extract(ctx context.Context, lang types.QueryLanguage, expression string) (types.IdentifierSet, error) {
	if strings.TrimSpace(expression) == "" {
		return types.NewIdentifierSet(nil, 1), nil
	}
	tree, err := e.registry.Parse(lang, expression)
	if err != nil {
		return types.IdentifierSet{}, errors.Wrapf(err, "extract %s identifiers", lang)
	}
	return FromTree(tree), nil
}

// FromTree collects identifiers from an already parsed tree.
func FromTree(tree *grammar.Tree) types.IdentifierSet {
	var raw []string
	for _, n := range tree.Identifiers() {
		raw = append(raw, tree.Text(n))
	}
	kept, dropped := normalizeAll(raw)
	if len(dropped) > 0 {
		logging.Get(logging.CategorySchema).Debug("dropped %d identifier(s) outside [a-z0-9._]: %v", len(dropped), dropped)
	}
	return types.NewIdentifierSet(kept, 1)
}
