package grammar

import (
	"sort"
	"strings"
	"unicode/utf8"
)

type memoKey struct {
	rule   int
	pos    int
	silent bool
}

type memoEntry struct {
	end   int
	nodes []*Node
	ok    bool
}

// parser holds the state of a single parse. Grammars are shared; parsers are not.
type parser struct {
	g        *Grammar
	input    string
	memo     map[memoKey]memoEntry
	skipped  []int
	silent   int
	farthest int
	expected map[string]struct{}
}

// Parse parses text with the grammar's start rule. The whole input must be
// consumed; otherwise a *SyntaxError describing the farthest failure is returned.
func (g *Grammar) Parse(text string) (*Tree, error) {
	p := &parser{
		g:        g,
		input:    text,
		memo:     make(map[memoKey]memoEntry),
		skipped:  make([]int, len(text)+1),
		farthest: -1,
		expected: make(map[string]struct{}),
	}
	for i := range p.skipped {
		p.skipped[i] = -1
	}

	end, nodes, ok := p.call(g.start, 0)
	if ok {
		end = p.skip(end)
		if end == len(text) {
			return &Tree{Source: text, Root: nodes[0], grammar: g}, nil
		}
		p.fail(end, "end of input")
	}
	return nil, p.syntaxError()
}

func (p *parser) skip(pos int) int {
	if p.g.skip == nil {
		return pos
	}
	if cached := p.skipped[pos]; cached >= 0 {
		return cached
	}
	end := pos
	if loc := p.g.skip.FindStringIndex(p.input[pos:]); loc != nil {
		end = pos + loc[1]
	}
	p.skipped[pos] = end
	return end
}

func (p *parser) fail(pos int, what string) {
	if p.silent > 0 || what == "" {
		return
	}
	if pos > p.farthest {
		p.farthest = pos
		p.expected = make(map[string]struct{})
	}
	if pos == p.farthest {
		p.expected[what] = struct{}{}
	}
}

func (p *parser) call(r *rule, pos int) (int, []*Node, bool) {
	key := memoKey{rule: r.index, pos: pos, silent: p.silent > 0}
	if m, ok := p.memo[key]; ok {
		return m.end, m.nodes, m.ok
	}

	var (
		end  int
		kids []*Node
		ok   bool
	)
	if r.display != "" {
		p.silent++
		end, kids, ok = p.match(r.body, pos)
		p.silent--
		if !ok {
			p.fail(p.skip(pos), r.display)
		}
	} else {
		end, kids, ok = p.match(r.body, pos)
	}

	entry := memoEntry{end: end, ok: ok}
	if ok {
		if r.inline {
			entry.nodes = kids
		} else {
			start := p.skip(pos)
			if start > end {
				start = end
			}
			entry.nodes = []*Node{{Rule: r.name, Start: start, End: end, Children: kids}}
		}
	}
	p.memo[key] = entry
	return entry.end, entry.nodes, entry.ok
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func (p *parser) match(e *expr, pos int) (int, []*Node, bool) {
	switch e.kind {
	case opLiteral:
		at := p.skip(pos)
		end := at + len(e.lit)
		if end > len(p.input) {
			p.fail(at, e.expected())
			return pos, nil, false
		}
		got := p.input[at:end]
		if got != e.lit && !(e.fold && strings.EqualFold(got, e.lit)) {
			p.fail(at, e.expected())
			return pos, nil, false
		}
		if e.word && end < len(p.input) && isWordByte(p.input[end]) {
			p.fail(at, e.expected())
			return pos, nil, false
		}
		return end, nil, true

	case opRegex:
		at := p.skip(pos)
		loc := e.re.FindStringIndex(p.input[at:])
		if loc == nil {
			p.fail(at, e.expected())
			return pos, nil, false
		}
		return at + loc[1], nil, true

	case opAny:
		at := p.skip(pos)
		if at >= len(p.input) {
			p.fail(at, e.expected())
			return pos, nil, false
		}
		_, size := utf8.DecodeRuneInString(p.input[at:])
		return at + size, nil, true

	case opRef:
		return p.call(e.rule, pos)

	case opSeq:
		cur := pos
		var nodes []*Node
		for _, item := range e.items {
			end, kids, ok := p.match(item, cur)
			if !ok {
				return pos, nil, false
			}
			nodes = append(nodes, kids...)
			cur = end
		}
		return cur, nodes, true

	case opChoice:
		for _, alt := range e.items {
			if end, kids, ok := p.match(alt, pos); ok {
				return end, kids, true
			}
		}
		return pos, nil, false

	case opOptional:
		if end, kids, ok := p.match(e.items[0], pos); ok {
			return end, kids, true
		}
		return pos, nil, true

	case opStar, opPlus:
		cur := pos
		var nodes []*Node
		count := 0
		for {
			end, kids, ok := p.match(e.items[0], cur)
			if !ok || end == cur {
				break
			}
			nodes = append(nodes, kids...)
			cur = end
			count++
		}
		if e.kind == opPlus && count == 0 {
			return pos, nil, false
		}
		return cur, nodes, true

	case opAnd:
		p.silent++
		_, _, ok := p.match(e.items[0], pos)
		p.silent--
		return pos, nil, ok

	case opNot:
		p.silent++
		_, _, ok := p.match(e.items[0], pos)
		p.silent--
		return pos, nil, !ok
	}
	return pos, nil, false
}

func (p *parser) syntaxError() *SyntaxError {
	off := p.farthest
	if off < 0 {
		off = 0
	}
	expected := make([]string, 0, len(p.expected))
	for what := range p.expected {
		expected = append(expected, what)
	}
	sort.Strings(expected)
	line, col := LineColumn(p.input, off)
	return &SyntaxError{
		Offset:   off,
		Line:     line,
		Column:   col,
		Expected: expected,
		Found:    foundAt(p.input, off),
	}
}

// foundAt describes the token starting at off: a word, a single character or
// end of input.
func foundAt(input string, off int) string {
	if off >= len(input) {
		return EndOfInput
	}
	if isWordByte(input[off]) {
		end := off
		for end < len(input) && isWordByte(input[end]) {
			end++
		}
		return input[off:end]
	}
	r, size := utf8.DecodeRuneInString(input[off:])
	if r == utf8.RuneError && size <= 1 {
		return input[off : off+1]
	}
	return string(r)
}
