package grammar

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// EndOfInput is the Found value of a SyntaxError raised at the end of the text.
const EndOfInput = "end of input"

// Node is a parse tree node for one non-inlined rule. Start and End are byte
// offsets into the source; Start is after any skipped whitespace.
type Node struct {
	Rule     string
	Start    int
	End      int
	Children []*Node
}

// Tree is the result of a successful parse.
type Tree struct {
	Source  string
	Root    *Node
	grammar *Grammar
}

// Text returns the source text covered by n.
func (t *Tree) Text(n *Node) string {
	return t.Source[n.Start:n.End]
}

// Grammar returns the grammar that produced the tree.
func (t *Tree) Grammar() *Grammar { return t.grammar }

// Walk visits every node in source order. ancestors holds the path from the
// root down to the node's parent; fn must not retain it.
func (t *Tree) Walk(fn func(n *Node, ancestors []*Node)) {
	var stack []*Node
	var visit func(n *Node)
	visit = func(n *Node) {
		fn(n, stack)
		stack = append(stack, n)
		for _, c := range n.Children {
			visit(c)
		}
		stack = stack[:len(stack)-1]
	}
	visit(t.Root)
}

// Identifiers returns the nodes of the grammar's identifier rules in source order.
func (t *Tree) Identifiers() []*Node {
	var out []*Node
	t.Walk(func(n *Node, _ []*Node) {
		if t.grammar.IsIdentifierRule(n.Rule) {
			out = append(out, n)
		}
	})
	return out
}

// Find returns n and every descendant of n produced by rule, in source order.
func (n *Node) Find(rule string) []*Node {
	var out []*Node
	var visit func(*Node)
	visit = func(x *Node) {
		if x.Rule == rule {
			out = append(out, x)
		}
		for _, c := range x.Children {
			visit(c)
		}
	}
	visit(n)
	return out
}

// Child returns the first direct child produced by rule, or nil.
func (n *Node) Child(rule string) *Node {
	for _, c := range n.Children {
		if c.Rule == rule {
			return c
		}
	}
	return nil
}

// String renders the subtree as an s-expression, useful in test failures.
func (n *Node) String() string {
	var sb strings.Builder
	var visit func(*Node)
	visit = func(x *Node) {
		sb.WriteString("(")
		sb.WriteString(x.Rule)
		for _, c := range x.Children {
			sb.WriteString(" ")
			visit(c)
		}
		sb.WriteString(")")
	}
	visit(n)
	return sb.String()
}

// =============================================================================
// SYNTAX ERRORS
// =============================================================================

// SyntaxError locates the farthest point the grammar could reach.
// Line and Column are 1-based; Column counts runes.
type SyntaxError struct {
	Offset   int
	Line     int
	Column   int
	Expected []string
	Found    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Line, e.Column, e.Detail())
}

// Detail is the "expected X, found Y" part of the error.
func (e *SyntaxError) Detail() string {
	found := e.Found
	if found != EndOfInput {
		found = fmt.Sprintf("%q", found)
	}
	switch len(e.Expected) {
	case 0:
		return "unexpected " + found
	case 1:
		return fmt.Sprintf("expected %s, found %s", e.Expected[0], found)
	}
	return fmt.Sprintf("expected one of %s, found %s", strings.Join(e.Expected, ", "), found)
}

// LineColumn converts a byte offset into a 1-based line and rune column.
func LineColumn(text string, offset int) (int, int) {
	if offset > len(text) {
		offset = len(text)
	}
	line := 1 + strings.Count(text[:offset], "\n")
	lineStart := strings.LastIndexByte(text[:offset], '\n') + 1
	return line, 1 + utf8.RuneCountInString(text[lineStart:offset])
}
