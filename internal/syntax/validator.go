// Package syntax converts grammar engine output into syntax stage results.
package syntax

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"

	"querygate/internal/grammar"
	"querygate/internal/logging"
	"querygate/internal/types"
)

const (
	// maxSnippetLine is the longest offending line returned whole.
	maxSnippetLine = 160
	// snippetRadius bounds the window around the failure on longer lines.
	snippetRadius = 80
)

// Validator is the syntax stage. It holds no per-call state.
type Validator struct {
	registry *grammar.Registry
}

// NewValidator returns a validator over reg; nil uses the embedded grammars.
func NewValidator(reg *grammar.Registry) *Validator {
	if reg == nil {
		reg = grammar.Default()
	}
	return &Validator{registry: reg}
}

// ValidateSyntax checks text against the grammar for lang. Bad syntax is a
// result, not an error; errors mean the language or its grammar asset is broken.
func (v *Validator) ValidateSyntax(lang types.QueryLanguage, text string) (types.SyntaxValidationResult, error) {
	res, _, err := v.ParseForValidation(lang, text)
	return res, err
}

// ParseForValidation is ValidateSyntax that also hands back the parse tree on success, so
// later stages can reuse it.
func (v *Validator) ParseForValidation(lang types.QueryLanguage, text string) (types.SyntaxValidationResult, *grammar.Tree, error) {
	g, err := v.registry.Grammar(lang)
	if err != nil {
		return types.SyntaxValidationResult{}, nil, err
	}

	if strings.TrimSpace(text) == "" {
		return types.SyntaxValidationResult{
			ErrorMessage: fmt.Sprintf("%s query cannot be empty", lang.DisplayName()),
			Line:         1,
			Column:       1,
		}, nil, nil
	}

	tree, err := g.Parse(text)
	if err == nil {
		return types.SyntaxValidationResult{IsValid: true}, tree, nil
	}

	var se *grammar.SyntaxError
	if !errors.As(err, &se) {
		return types.SyntaxValidationResult{}, nil, errors.Wrapf(err, "parse %s", lang)
	}

	logging.Get(logging.CategorySyntax).Debug("%s rejected at %d:%d: %s", lang, se.Line, se.Column, se.Detail())
	return types.SyntaxValidationResult{
		ErrorMessage: fmt.Sprintf("Invalid %s syntax at line %d, column %d: %s",
			lang.DisplayName(), se.Line, se.Column, se.Detail()),
		Line:           se.Line,
		Column:         se.Column,
		ContextSnippet: Snippet(text, se.Offset),
	}, nil, nil
}

// Snippet returns the line containing offset verbatim, or a window of
// snippetRadius bytes either side of offset when the line is too long.
// Window edges are moved inward to rune boundaries.
func Snippet(text string, offset int) string {
	if offset > len(text) {
		offset = len(text)
	}
	start := strings.LastIndexByte(text[:offset], '\n') + 1
	end := len(text)
	if i := strings.IndexByte(text[offset:], '\n'); i >= 0 {
		end = offset + i
	}
	if end-start <= maxSnippetLine {
		return text[start:end]
	}

	lo := offset - snippetRadius
	if lo < start {
		lo = start
	}
	hi := offset + snippetRadius
	if hi > end {
		hi = end
	}
	for lo < offset && !utf8.RuneStart(text[lo]) {
		lo++
	}
	for hi > offset && hi < len(text) && !utf8.RuneStart(text[hi]) {
		hi--
	}
	return text[lo:hi]
}
