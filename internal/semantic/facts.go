package semantic

import (
	"regexp"
	"slices"
	"strings"

	"querygate/internal/extract"
	"querygate/internal/grammar"
	"querygate/internal/types"
)

// QueryFacts is what a query does to the intent identifier, read from the
// parse tree without any judgment.
type QueryFacts struct {
	Identifier string
	Found      bool

	// Functions applied to the identifier, canonical lowercase names,
	// innermost first.
	Functions []string

	// Filters holds equality matchers only; negated and regex matchers
	// do not pin a label to a value.
	Filters map[string]string
	Windows []string
	GroupBy []string
}

func (f *QueryFacts) addFunction(name string) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name != "" && !slices.Contains(f.Functions, name) {
		f.Functions = append(f.Functions, name)
	}
}

func (f *QueryFacts) addFilter(key, value string) {
	if key == "" {
		return
	}
	if f.Filters == nil {
		f.Filters = make(map[string]string)
	}
	f.Filters[key] = unquote(value)
}

func (f *QueryFacts) addWindow(w string) {
	if w != "" && !slices.Contains(f.Windows, w) {
		f.Windows = append(f.Windows, w)
	}
}

func (f *QueryFacts) addGroup(label string) {
	label = strings.TrimSpace(label)
	if label != "" && !slices.Contains(f.GroupBy, label) {
		f.GroupBy = append(f.GroupBy, label)
	}
}

// CollectFacts reads the facts about intent's identifier from tree.
func CollectFacts(lang types.QueryLanguage, tree *grammar.Tree, intent *types.QueryIntent) QueryFacts {
	id, _ := extract.Normalize(intent.Identifier)
	facts := QueryFacts{Identifier: id}
	if id == "" {
		return facts
	}
	match := identifierMatcher(id, intent.Kind)

	switch lang {
	case types.LanguagePromQL:
		promqlFacts(tree, &facts, match)
	case types.LanguageLogQL:
		logqlFacts(tree, &facts, match)
	case types.LanguageSearchDSL:
		searchFacts(tree, &facts, match)
	case types.LanguageGraphDSL:
		graphFacts(tree, &facts, match)
	}
	return facts
}

// identifierMatcher accepts the identifier itself and, for distribution
// kinds, the series a histogram or summary is exported as.
func identifierMatcher(id string, kind types.IdentifierKind) func(string) bool {
	return func(raw string) bool {
		n, ok := extract.Normalize(raw)
		if !ok {
			return false
		}
		if n == id {
			return true
		}
		if kind.IsDistribution() {
			for _, suffix := range []string{"_bucket", "_sum", "_count"} {
				if n == id+suffix {
					return true
				}
			}
		}
		return false
	}
}

// =============================================================================
// PROMQL
// =============================================================================

func promqlFacts(tree *grammar.Tree, f *QueryFacts, match func(string) bool) {
	tree.Walk(func(n *grammar.Node, ancestors []*grammar.Node) {
		if !tree.Grammar().IsIdentifierRule(n.Rule) || !match(tree.Text(n)) {
			return
		}
		f.Found = true
		path := append(slices.Clone(ancestors), n)
		for i := len(path) - 2; i >= 0; i-- {
			a := path[i]
			switch a.Rule {
			case "function_call":
				f.addFunction(text(tree, a.Child("function_name")))
			case "aggregation":
				f.addFunction(text(tree, a.Child("aggregate_op")))
				addGrouping(tree, f, a.Child("grouping"))
			case "vector_selector":
				for _, m := range a.Find("label_matcher") {
					if text(tree, m.Child("match_op")) == "=" {
						f.addFilter(text(tree, m.Child("label_name")), text(tree, m.Child("string_literal")))
					}
				}
			}
			for _, s := range suffixesAfter(a, path[i+1]) {
				if r := s.Child("range_selector"); r != nil {
					f.addWindow(text(tree, r.Child("duration")))
				}
				if r := s.Child("subquery_range"); r != nil {
					if ds := r.Find("duration"); len(ds) > 0 {
						f.addWindow(tree.Text(ds[0]))
					}
				}
			}
		}
	})
}

// suffixesAfter returns the suffix nodes that directly follow child under parent.
func suffixesAfter(parent, child *grammar.Node) []*grammar.Node {
	i := slices.Index(parent.Children, child)
	if i < 0 {
		return nil
	}
	var out []*grammar.Node
	for _, c := range parent.Children[i+1:] {
		if c.Rule != "suffix" {
			break
		}
		out = append(out, c)
	}
	return out
}

// addGrouping records "by" labels. "without" lists what is dropped, so it
// says nothing about what the query groups by.
func addGrouping(tree *grammar.Tree, f *QueryFacts, g *grammar.Node) {
	if g == nil || !strings.EqualFold(text(tree, g.Child("grouping_kind")), "by") {
		return
	}
	for _, l := range g.Find("label_name") {
		f.addGroup(tree.Text(l))
	}
}

// =============================================================================
// LOGQL
// =============================================================================

func logqlFacts(tree *grammar.Tree, f *QueryFacts, match func(string) bool) {
	tree.Walk(func(n *grammar.Node, ancestors []*grammar.Node) {
		if n.Rule != "stream_label" || !match(tree.Text(n)) {
			return
		}
		f.Found = true
		pipelineSeen := false
		for i := len(ancestors) - 1; i >= 0; i-- {
			a := ancestors[i]
			switch a.Rule {
			case "stream_selector":
				for _, m := range a.Find("stream_matcher") {
					if text(tree, m.Child("match_op")) == "=" {
						f.addFilter(text(tree, m.Child("stream_label")), text(tree, m.Child("string_literal")))
					}
				}
			case "log_range", "log_query":
				if r := a.Child("range"); r != nil {
					f.addWindow(text(tree, r.Child("duration")))
				}
				if !pipelineSeen {
					pipelineSeen = true
					for _, c := range a.Find("label_comparison") {
						if op := text(tree, c.Child("comparison_op")); op == "==" || op == "=" {
							f.addFilter(text(tree, c.Child("label_name")), comparisonValue(tree, c))
						}
					}
				}
			case "range_aggregation":
				f.addFunction(text(tree, a.Child("range_op")))
				addGrouping(tree, f, a.Child("grouping"))
			case "vector_aggregation":
				f.addFunction(text(tree, a.Child("vector_op")))
				addGrouping(tree, f, a.Child("grouping"))
			}
		}
	})
}

func comparisonValue(tree *grammar.Tree, c *grammar.Node) string {
	if len(c.Children) == 0 {
		return ""
	}
	return tree.Text(c.Children[len(c.Children)-1])
}

// =============================================================================
// SEARCHDSL
// =============================================================================

// searchFacts reads the whole pipeline: SearchDSL commands apply to the
// result set of the initial search, not to one field.
func searchFacts(tree *grammar.Tree, f *QueryFacts, match func(string) bool) {
	for _, n := range tree.Root.Find("search_field") {
		if match(tree.Text(n)) {
			f.Found = true
			break
		}
	}
	if !f.Found {
		return
	}

	for _, c := range tree.Root.Find("comparison") {
		if op := text(tree, c.Child("comparison_op")); op == "=" {
			f.addFilter(text(tree, c.Child("search_field")), text(tree, c.Child("field_value")))
		}
	}
	for _, fn := range tree.Root.Find("stat_fn") {
		f.addFunction(canonicalSearchFunction(tree.Text(fn)))
	}
	for _, by := range tree.Root.Find("by_clause") {
		for _, field := range by.Find("field_name") {
			f.addGroup(tree.Text(field))
		}
	}
	for _, chart := range tree.Root.Find("chart_cmd") {
		if list := chart.Child("field_list"); list != nil {
			for _, field := range list.Find("field_name") {
				f.addGroup(tree.Text(field))
			}
		}
	}
	for _, opt := range tree.Root.Find("timechart_opt") {
		if strings.HasPrefix(strings.ToLower(tree.Text(opt)), "span") {
			f.addWindow(text(tree, opt.Child("field_value")))
		}
	}
}

var percentileStat = regexp.MustCompile(`^(?:perc|p)[0-9]{1,2}$`)

func canonicalSearchFunction(fn string) string {
	fn = strings.ToLower(fn)
	switch {
	case fn == "dc" || fn == "distinct_count":
		return "count"
	case fn == "mean":
		return "avg"
	case fn == "stdev" || fn == "stdevp":
		return "stddev"
	case fn == "var" || fn == "varp":
		return "stdvar"
	case fn == "median" || percentileStat.MatchString(fn):
		return string(types.AggQuantile)
	}
	return fn
}

// =============================================================================
// GRAPHDSL
// =============================================================================

func graphFacts(tree *grammar.Tree, f *QueryFacts, match func(string) bool) {
	tree.Walk(func(n *grammar.Node, ancestors []*grammar.Node) {
		if !tree.Grammar().IsIdentifierRule(n.Rule) || !match(tree.Text(n)) {
			return
		}
		f.Found = true
		for i := len(ancestors) - 1; i >= 0; i-- {
			a := ancestors[i]
			if a.Rule == "node_pattern" || a.Rule == "rel_detail" {
				for _, e := range a.Find("property_entry") {
					f.addFilter(text(tree, e.Child("property_key")), text(tree, e.Child("property_value")))
				}
				break
			}
		}
	})
	if !f.Found {
		return
	}

	for _, w := range tree.Root.Find("where_clause") {
		for _, e := range w.Find("expression") {
			equalityFilters(tree, f, e)
		}
	}
	for _, p := range tree.Root.Find("projection_items") {
		graphProjection(tree, f, p)
	}
}

// equalityFilters reads "x.key = literal" comparisons directly under e.
func equalityFilters(tree *grammar.Tree, f *QueryFacts, e *grammar.Node) {
	var key string
	for i, c := range e.Children {
		switch c.Rule {
		case "property_lookup":
			key = text(tree, c.Child("property_key"))
		case "comparison_op":
			if tree.Text(c) != "=" || key == "" || i+1 >= len(e.Children) {
				continue
			}
			if lits := e.Children[i+1].Find("literal"); len(lits) > 0 {
				f.addFilter(key, tree.Text(lits[0]))
			}
		case "and_op", "or_op", "xor_op":
			key = ""
		}
	}
}

// graphProjection records aggregate functions and, when there are any, the
// non-aggregated items as implicit grouping keys.
func graphProjection(tree *grammar.Tree, f *QueryFacts, items *grammar.Node) {
	var keys []string
	aggregated := false
	for _, item := range items.Find("projection_item") {
		calls := item.Find("function_call")
		stars := item.Find("count_star")
		if len(calls) == 0 && len(stars) == 0 {
			keys = append(keys, projectionKey(tree, item))
			continue
		}
		for _, c := range calls {
			if fn := canonicalGraphFunction(text(tree, c.Child("function_name"))); types.FamilyOf(fn) != types.FamilyOther {
				aggregated = true
				f.addFunction(fn)
			}
		}
		if len(stars) > 0 {
			aggregated = true
			f.addFunction(string(types.AggCount))
		}
	}
	if aggregated {
		for _, k := range keys {
			f.addGroup(k)
		}
	}
}

// projectionKey names an item by its last property key, so p.city groups by city.
func projectionKey(tree *grammar.Tree, item *grammar.Node) string {
	if lookups := item.Find("property_key"); len(lookups) > 0 {
		return tree.Text(lookups[len(lookups)-1])
	}
	return tree.Text(item)
}

func canonicalGraphFunction(fn string) string {
	fn = strings.ToLower(fn)
	switch fn {
	case "stdev", "stdevp":
		return string(types.AggStddev)
	case "percentilecont", "percentiledisc":
		return string(types.AggQuantile)
	}
	return fn
}

// =============================================================================
// HELPERS
// =============================================================================

func text(tree *grammar.Tree, n *grammar.Node) string {
	if n == nil {
		return ""
	}
	return tree.Text(n)
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == s[len(s)-1] && strings.ContainsRune("\"'`", rune(s[0])) {
		return s[1 : len(s)-1]
	}
	return s
}
