package grammar

import (
	"fmt"
	"regexp"
	"strings"

	"querygate/internal/types"
)

// =============================================================================
// GRAMMAR NOTATION
// =============================================================================
//
// A grammar asset is a list of directives and rules:
//
//	%start query
//	%skip /\s*/
//	%identifiers metric_name
//	query <- selector ("|" stage)*
//	number "number" <- /[0-9]+/
//
// Rules end where the next rule or directive begins. A trailing ";" is allowed.

type tokKind int

const (
	tEOF tokKind = iota
	tIdent
	tString
	tRegex
	tArrow
	tDirective
	tPunct
)

type token struct {
	kind tokKind
	text string
	fold bool
	line int
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentByte(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func lex(name, src string) ([]token, error) {
	var toks []token
	line := 1
	fail := func(format string, args ...interface{}) error {
		return &types.GrammarError{Grammar: name, Line: line, Msg: fmt.Sprintf(format, args...)}
	}

	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '\n':
			line++
			i++
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case c == '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case isIdentStart(c):
			j := i
			for j < len(src) && isIdentByte(src[j]) {
				j++
			}
			toks = append(toks, token{kind: tIdent, text: src[i:j], line: line})
			i = j
		case c == '%':
			j := i + 1
			for j < len(src) && isIdentByte(src[j]) {
				j++
			}
			if j == i+1 {
				return nil, fail("directive name expected after %%")
			}
			toks = append(toks, token{kind: tDirective, text: src[i+1 : j], line: line})
			i = j
		case c == '"':
			var sb strings.Builder
			j := i + 1
			for ; j < len(src) && src[j] != '"'; j++ {
				if src[j] == '\n' {
					return nil, fail("unterminated literal")
				}
				if src[j] == '\\' && j+1 < len(src) {
					j++
					switch src[j] {
					case 'n':
						sb.WriteByte('\n')
					case 't':
						sb.WriteByte('\t')
					case 'r':
						sb.WriteByte('\r')
					default:
						sb.WriteByte(src[j])
					}
					continue
				}
				sb.WriteByte(src[j])
			}
			if j >= len(src) {
				return nil, fail("unterminated literal")
			}
			j++
			tok := token{kind: tString, text: sb.String(), line: line}
			if j < len(src) && src[j] == 'i' && (j+1 == len(src) || !isIdentByte(src[j+1])) {
				tok.fold = true
				j++
			}
			toks = append(toks, tok)
			i = j
		case c == '/':
			var sb strings.Builder
			j := i + 1
			for ; j < len(src) && src[j] != '/'; j++ {
				if src[j] == '\n' {
					return nil, fail("unterminated regular expression")
				}
				if src[j] == '\\' && j+1 < len(src) {
					if src[j+1] == '/' {
						sb.WriteByte('/')
					} else {
						sb.WriteByte('\\')
						sb.WriteByte(src[j+1])
					}
					j++
					continue
				}
				sb.WriteByte(src[j])
			}
			if j >= len(src) {
				return nil, fail("unterminated regular expression")
			}
			if sb.Len() == 0 {
				return nil, fail("empty regular expression")
			}
			toks = append(toks, token{kind: tRegex, text: sb.String(), line: line})
			i = j + 1
		case c == '<' && i+1 < len(src) && src[i+1] == '-':
			toks = append(toks, token{kind: tArrow, text: "<-", line: line})
			i += 2
		case strings.IndexByte("|()?*+&!.;", c) >= 0:
			toks = append(toks, token{kind: tPunct, text: string(c), line: line})
			i++
		default:
			return nil, fail("unexpected character %q", c)
		}
	}
	return append(toks, token{kind: tEOF, line: line}), nil
}

// =============================================================================
// RULE TABLE
// =============================================================================

type opKind int

const (
	opLiteral opKind = iota
	opRegex
	opAny
	opRef
	opSeq
	opChoice
	opOptional
	opStar
	opPlus
	opAnd
	opNot
)

type expr struct {
	kind  opKind
	line  int
	lit   string
	fold  bool
	word  bool
	re    *regexp.Regexp
	src   string
	ref   string
	rule  *rule
	items []*expr
}

func (e *expr) expected() string {
	switch e.kind {
	case opLiteral:
		return fmt.Sprintf("%q", e.lit)
	case opRegex:
		return "/" + e.src + "/"
	case opAny:
		return "any character"
	}
	return ""
}

type rule struct {
	name    string
	display string
	line    int
	inline  bool
	index   int
	body    *expr
}

type notation struct {
	name        string
	rules       []*rule
	start       string
	skip        *regexp.Regexp
	identifiers []string
}

type notationParser struct {
	name string
	toks []token
	pos  int
}

func (p *notationParser) peek(offset int) token {
	if p.pos+offset >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+offset]
}

func (p *notationParser) next() token {
	t := p.peek(0)
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *notationParser) errorf(line int, format string, args ...interface{}) error {
	return &types.GrammarError{Grammar: p.name, Line: line, Msg: fmt.Sprintf(format, args...)}
}

func (p *notationParser) isPunct(text string) bool {
	t := p.peek(0)
	return t.kind == tPunct && t.text == text
}

// atRuleStart reports whether the upcoming tokens begin a new rule definition.
func (p *notationParser) atRuleStart() bool {
	if p.peek(0).kind != tIdent {
		return false
	}
	if p.peek(1).kind == tArrow {
		return true
	}
	return p.peek(1).kind == tString && p.peek(2).kind == tArrow
}

func parseNotation(name, src string) (*notation, error) {
	toks, err := lex(name, src)
	if err != nil {
		return nil, err
	}
	p := &notationParser{name: name, toks: toks}
	n := &notation{name: name}

	for p.peek(0).kind != tEOF {
		t := p.peek(0)
		switch t.kind {
		case tDirective:
			if err := p.directive(n); err != nil {
				return nil, err
			}
		case tIdent:
			r, err := p.rule()
			if err != nil {
				return nil, err
			}
			r.index = len(n.rules)
			n.rules = append(n.rules, r)
		default:
			return nil, p.errorf(t.line, "rule or directive expected, found %q", t.text)
		}
	}
	return n, nil
}

func (p *notationParser) directive(n *notation) error {
	d := p.next()
	switch d.text {
	case "start":
		t := p.next()
		if t.kind != tIdent {
			return p.errorf(d.line, "%%start needs a rule name")
		}
		n.start = t.text
	case "skip":
		t := p.next()
		if t.kind != tRegex {
			return p.errorf(d.line, "%%skip needs a regular expression")
		}
		re, err := regexp.Compile(`^(?:` + t.text + `)`)
		if err != nil {
			return p.errorf(d.line, "invalid skip pattern: %v", err)
		}
		n.skip = re
	case "identifiers":
		for p.peek(0).kind == tIdent && p.peek(0).line == d.line {
			n.identifiers = append(n.identifiers, p.next().text)
		}
		if len(n.identifiers) == 0 {
			return p.errorf(d.line, "%%identifiers needs at least one rule name")
		}
	default:
		return p.errorf(d.line, "unknown directive %%%s", d.text)
	}
	return nil
}

func (p *notationParser) rule() (*rule, error) {
	nameTok := p.next()
	r := &rule{name: nameTok.text, line: nameTok.line, inline: strings.HasPrefix(nameTok.text, "_")}
	if p.peek(0).kind == tString {
		r.display = p.next().text
	}
	if t := p.next(); t.kind != tArrow {
		return nil, p.errorf(t.line, "rule %q: expected <-", r.name)
	}
	body, err := p.choice()
	if err != nil {
		return nil, err
	}
	if p.isPunct(";") {
		p.next()
	}
	r.body = body
	return r, nil
}

func (p *notationParser) choice() (*expr, error) {
	line := p.peek(0).line
	first, err := p.sequence()
	if err != nil {
		return nil, err
	}
	alts := []*expr{first}
	for p.isPunct("|") {
		p.next()
		alt, err := p.sequence()
		if err != nil {
			return nil, err
		}
		alts = append(alts, alt)
	}
	if len(alts) == 1 {
		return first, nil
	}
	return &expr{kind: opChoice, line: line, items: alts}, nil
}

func (p *notationParser) sequence() (*expr, error) {
	line := p.peek(0).line
	var items []*expr
	for {
		t := p.peek(0)
		if t.kind == tEOF || t.kind == tDirective || p.atRuleStart() {
			break
		}
		if t.kind == tPunct && (t.text == "|" || t.text == ")" || t.text == ";") {
			break
		}
		item, err := p.prefixed()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	switch len(items) {
	case 0:
		return nil, p.errorf(line, "empty sequence")
	case 1:
		return items[0], nil
	}
	return &expr{kind: opSeq, line: line, items: items}, nil
}

func (p *notationParser) prefixed() (*expr, error) {
	if p.isPunct("&") || p.isPunct("!") {
		t := p.next()
		inner, err := p.suffixed()
		if err != nil {
			return nil, err
		}
		kind := opAnd
		if t.text == "!" {
			kind = opNot
		}
		return &expr{kind: kind, line: t.line, items: []*expr{inner}}, nil
	}
	return p.suffixed()
}

func (p *notationParser) suffixed() (*expr, error) {
	e, err := p.primary()
	if err != nil {
		return nil, err
	}
	for {
		var kind opKind
		switch {
		case p.isPunct("?"):
			kind = opOptional
		case p.isPunct("*"):
			kind = opStar
		case p.isPunct("+"):
			kind = opPlus
		default:
			return e, nil
		}
		t := p.next()
		e = &expr{kind: kind, line: t.line, items: []*expr{e}}
	}
}

func (p *notationParser) primary() (*expr, error) {
	t := p.next()
	switch t.kind {
	case tIdent:
		return &expr{kind: opRef, line: t.line, ref: t.text}, nil
	case tString:
		word := t.text != "" && isIdentByte(t.text[len(t.text)-1])
		return &expr{kind: opLiteral, line: t.line, lit: t.text, fold: t.fold, word: word}, nil
	case tRegex:
		re, err := regexp.Compile(`^(?:` + t.text + `)`)
		if err != nil {
			return nil, p.errorf(t.line, "invalid regular expression /%s/: %v", t.text, err)
		}
		return &expr{kind: opRegex, line: t.line, re: re, src: t.text}, nil
	case tPunct:
		switch t.text {
		case "(":
			inner, err := p.choice()
			if err != nil {
				return nil, err
			}
			if !p.isPunct(")") {
				return nil, p.errorf(t.line, "unclosed group")
			}
			p.next()
			return inner, nil
		case ".":
			return &expr{kind: opAny, line: t.line}, nil
		}
	}
	return nil, p.errorf(t.line, "unexpected %q", t.text)
}
