package grammar

import (
	"fmt"
	"regexp"

	"querygate/internal/types"
)

// Grammar is a compiled, immutable rule table. It is safe for concurrent use.
type Grammar struct {
	Name        string
	rules       []*rule
	byName      map[string]*rule
	start       *rule
	skip        *regexp.Regexp
	identifiers map[string]bool
}

// Compile turns a grammar asset into a rule table. Every defect in the asset
// is reported as a *types.GrammarError.
func Compile(name, src string) (*Grammar, error) {
	n, err := parseNotation(name, src)
	if err != nil {
		return nil, err
	}

	g := &Grammar{
		Name:        name,
		rules:       n.rules,
		byName:      make(map[string]*rule, len(n.rules)),
		skip:        n.skip,
		identifiers: make(map[string]bool, len(n.identifiers)),
	}
	fail := func(line int, format string, args ...interface{}) error {
		return &types.GrammarError{Grammar: name, Line: line, Msg: fmt.Sprintf(format, args...)}
	}

	for _, r := range n.rules {
		if prev, dup := g.byName[r.name]; dup {
			return nil, fail(r.line, "rule %q already defined on line %d", r.name, prev.line)
		}
		g.byName[r.name] = r
	}

	if n.start == "" {
		return nil, fail(0, "missing %%start directive")
	}
	start, ok := g.byName[n.start]
	if !ok {
		return nil, fail(0, "start rule %q is not defined", n.start)
	}
	if start.inline {
		return nil, fail(start.line, "start rule %q cannot be inlined", start.name)
	}
	g.start = start

	for _, id := range n.identifiers {
		if _, ok := g.byName[id]; !ok {
			return nil, fail(0, "identifier rule %q is not defined", id)
		}
		g.identifiers[id] = true
	}

	for _, r := range g.rules {
		if err := g.link(r.body); err != nil {
			return nil, err
		}
	}

	nullable := g.nullableRules()
	for _, r := range g.rules {
		if err := checkRepetition(name, r.body, nullable); err != nil {
			return nil, err
		}
	}
	if err := g.checkLeftRecursion(nullable); err != nil {
		return nil, err
	}
	return g, nil
}

// MustCompile is Compile for assets known to be valid, such as test fixtures.
func MustCompile(name, src string) *Grammar {
	g, err := Compile(name, src)
	if err != nil {
		panic(err)
	}
	return g
}

// IsIdentifierRule reports whether nodes of rule hold identifiers.
func (g *Grammar) IsIdentifierRule(rule string) bool {
	return g.identifiers[rule]
}

func (g *Grammar) link(e *expr) error {
	if e.kind == opRef {
		r, ok := g.byName[e.ref]
		if !ok {
			return &types.GrammarError{Grammar: g.Name, Line: e.line, Msg: fmt.Sprintf("undefined rule %q", e.ref)}
		}
		e.rule = r
		return nil
	}
	for _, item := range e.items {
		if err := g.link(item); err != nil {
			return err
		}
	}
	return nil
}

// nullableRules computes which rules can succeed without consuming input.
func (g *Grammar) nullableRules() map[*rule]bool {
	nullable := make(map[*rule]bool, len(g.rules))
	for changed := true; changed; {
		changed = false
		for _, r := range g.rules {
			if !nullable[r] && isNullable(r.body, nullable) {
				nullable[r] = true
				changed = true
			}
		}
	}
	return nullable
}

func isNullable(e *expr, nullable map[*rule]bool) bool {
	switch e.kind {
	case opLiteral:
		return e.lit == ""
	case opRegex:
		return e.re.MatchString("")
	case opAny:
		return false
	case opRef:
		return nullable[e.rule]
	case opSeq:
		for _, item := range e.items {
			if !isNullable(item, nullable) {
				return false
			}
		}
		return true
	case opChoice:
		for _, item := range e.items {
			if isNullable(item, nullable) {
				return true
			}
		}
		return false
	case opPlus:
		return isNullable(e.items[0], nullable)
	default:
		return true
	}
}

func checkRepetition(name string, e *expr, nullable map[*rule]bool) error {
	if (e.kind == opStar || e.kind == opPlus) && isNullable(e.items[0], nullable) {
		return &types.GrammarError{Grammar: name, Line: e.line, Msg: "repeated expression can match empty input"}
	}
	for _, item := range e.items {
		if err := checkRepetition(name, item, nullable); err != nil {
			return err
		}
	}
	return nil
}

// leftCalls collects the rules that may be invoked at the starting position of e.
func leftCalls(e *expr, nullable map[*rule]bool, add func(*rule)) {
	switch e.kind {
	case opRef:
		add(e.rule)
	case opSeq:
		for _, item := range e.items {
			leftCalls(item, nullable, add)
			if !isNullable(item, nullable) {
				return
			}
		}
	case opChoice, opOptional, opStar, opPlus, opAnd, opNot:
		for _, item := range e.items {
			leftCalls(item, nullable, add)
		}
	}
}

func (g *Grammar) checkLeftRecursion(nullable map[*rule]bool) error {
	const (
		white = iota
		grey
		black
	)
	color := make(map[*rule]int, len(g.rules))
	var visit func(r *rule) *rule
	visit = func(r *rule) *rule {
		color[r] = grey
		var cycle *rule
		leftCalls(r.body, nullable, func(callee *rule) {
			if cycle != nil {
				return
			}
			switch color[callee] {
			case grey:
				cycle = callee
			case white:
				cycle = visit(callee)
			}
		})
		color[r] = black
		return cycle
	}
	for _, r := range g.rules {
		if color[r] != white {
			continue
		}
		if cyc := visit(r); cyc != nil {
			return &types.GrammarError{Grammar: g.Name, Line: cyc.line, Msg: fmt.Sprintf("left recursion through rule %q", cyc.name)}
		}
	}
	return nil
}
