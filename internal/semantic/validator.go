// Package semantic decides whether a syntactically and schematically valid
// query computes what its intent asks for.
package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/common/model"
	"go.uber.org/zap"

	"querygate/internal/grammar"
	"querygate/internal/logging"
	"querygate/internal/reasoning"
	"querygate/internal/types"
)

// Scoring selects how a reasoner verdict is read.
type Scoring string

const (
	ScoringBoolean   Scoring = "boolean"
	ScoringFivePoint Scoring = "five_point"
)

// ParseScoring maps a config value onto a Scoring. Empty means boolean.
func ParseScoring(name string) (Scoring, error) {
	switch s := Scoring(name); s {
	case "", ScoringBoolean:
		return ScoringBoolean, nil
	case ScoringFivePoint:
		return s, nil
	default:
		return "", errors.Newf("unknown semantic scoring %q", name)
	}
}

// PartialThreshold is the facet coverage at or above which a query is a
// partial match.
const PartialThreshold = 0.5

// Options configures a Validator.
type Options struct {
	Registry      *grammar.Registry
	Scoring       Scoring
	MinConfidence float64

	// Reasoner, when set, judges queries that pass the kind policy.
	Reasoner reasoning.Client

	// Policy defaults to the embedded kind policy.
	Policy *Policy
}

// Validator is the semantic stage. It holds no per-call state.
type Validator struct {
	registry      *grammar.Registry
	scoring       Scoring
	minConfidence float64
	reasoner      reasoning.Client
	policy        *Policy
}

// NewValidator builds a validator from opts.
func NewValidator(opts Options) (*Validator, error) {
	scoring, err := ParseScoring(string(opts.Scoring))
	if err != nil {
		return nil, err
	}
	policy := opts.Policy
	if policy == nil {
		if policy, err = DefaultPolicy(); err != nil {
			return nil, err
		}
	}
	reg := opts.Registry
	if reg == nil {
		reg = grammar.Default()
	}
	return &Validator{
		registry:      reg,
		scoring:       scoring,
		minConfidence: opts.MinConfidence,
		reasoner:      opts.Reasoner,
		policy:        policy,
	}, nil
}

// ValidateSemantics parses queryText and judges it against intent.
// A query that does not parse is a caller error; run the syntax stage first.
func (v *Validator) ValidateSemantics(ctx context.Context, lang types.QueryLanguage, intent *types.QueryIntent, queryText string) (types.SemanticValidationResult, error) {
	tree, err := v.registry.Parse(lang, queryText)
	if err != nil {
		return types.SemanticValidationResult{}, errors.Wrapf(err, "semantic validation of %s query", lang)
	}
	return v.ValidateTree(ctx, lang, intent, tree)
}

// ValidateTree is ValidateSemantics over an already parsed query.
func (v *Validator) ValidateTree(ctx context.Context, lang types.QueryLanguage, intent *types.QueryIntent, tree *grammar.Tree) (types.SemanticValidationResult, error) {
	if intent == nil {
		return types.SemanticValidationResult{}, errors.New("semantic validation needs an intent")
	}

	facts := CollectFacts(lang, tree, intent)
	intentSummary := SummarizeIntent(intent)
	behaviorSummary := SummarizeBehavior(facts)

	if !facts.Found {
		return types.NewSemanticResult(false, false, 1,
			fmt.Sprintf("The query does not reference %s.", intent.Identifier),
			intentSummary, behaviorSummary)
	}

	defects, err := v.policy.Evaluate(intent.Kind, facts)
	if err != nil {
		return types.SemanticValidationResult{}, err
	}
	if len(defects) > 0 {
		descs := make([]string, len(defects))
		for i, d := range defects {
			descs[i] = fmt.Sprintf("%s (%s)", d, d.Describe())
		}
		logging.SemanticDebug("kind policy rejected %s query: %v", lang, defects)
		return types.NewSemanticResult(false, false, 1,
			fmt.Sprintf("Kind policy violation for %s %s: %s.", intent.Kind, intent.Identifier, strings.Join(descs, "; ")),
			intentSummary, behaviorSummary)
	}

	if v.reasoner != nil {
		return v.judge(ctx, lang, intent, tree.Source, intentSummary, behaviorSummary)
	}

	cov := Cover(intent, facts)
	if v.scoring == ScoringFivePoint {
		score := cov.Score()
		intentMatch, partialMatch := fivePointVerdict(score)
		return types.NewSemanticResult(intentMatch, partialMatch, float64(score)/5,
			fmt.Sprintf("%s Score %d/5.", cov.Explain(), score), intentSummary, behaviorSummary)
	}
	return types.NewSemanticResult(cov.Ratio() == 1, cov.Ratio() < 1 && cov.Ratio() >= PartialThreshold,
		cov.Ratio(), cov.Explain(), intentSummary, behaviorSummary)
}

// fivePointVerdict reads a 1..5 score: 3 and up match, 2 is partial.
func fivePointVerdict(score int) (intentMatch, partialMatch bool) {
	return score >= 3, score == 2
}

// =============================================================================
// REASONER VERDICTS
// =============================================================================

type explainResponse struct {
	IntentMatch     *bool    `json:"intent_match"`
	PartialMatch    bool     `json:"partial_match"`
	Confidence      *float64 `json:"confidence"`
	Score           *float64 `json:"score"`
	Explanation     string   `json:"explanation"`
	IntentSummary   string   `json:"intent_summary"`
	BehaviorSummary string   `json:"behavior_summary"`
}

func (v *Validator) judge(ctx context.Context, lang types.QueryLanguage, intent *types.QueryIntent, query, intentSummary, behaviorSummary string) (types.SemanticValidationResult, error) {
	task := reasoning.TaskExplainQuery
	out, err := v.reasoner.Complete(ctx, reasoning.Request{
		Task:   task,
		System: reasoning.SystemPrompt(task),
		User:   ExplainPrompt(lang, intent, query),
	})
	if err != nil {
		return types.SemanticValidationResult{}, reasoning.Classify(task, err)
	}

	var resp explainResponse
	if err := json.Unmarshal([]byte(reasoning.StripFence(out)), &resp); err != nil {
		return types.SemanticValidationResult{}, malformed(errors.Wrap(err, "decode verdict"))
	}
	if resp.IntentSummary != "" {
		intentSummary = resp.IntentSummary
	}
	if resp.BehaviorSummary != "" {
		behaviorSummary = resp.BehaviorSummary
	}

	var (
		intentMatch, partialMatch bool
		confidence                float64
	)
	switch v.scoring {
	case ScoringFivePoint:
		if resp.Score == nil {
			return types.SemanticValidationResult{}, malformed(errors.New("verdict has no score"))
		}
		score := int(math.Round(*resp.Score))
		if score < 1 || score > 5 {
			return types.SemanticValidationResult{}, malformed(errors.Newf("score %v outside 1..5", *resp.Score))
		}
		intentMatch, partialMatch = fivePointVerdict(score)
		confidence = float64(score) / 5

	default:
		if resp.IntentMatch == nil || resp.Confidence == nil {
			return types.SemanticValidationResult{}, malformed(errors.New("verdict needs intent_match and confidence"))
		}
		intentMatch = *resp.IntentMatch
		// A full match already covers the partial case.
		partialMatch = resp.PartialMatch && !intentMatch
		confidence = *resp.Confidence
		if confidence < v.minConfidence {
			logging.Ctx(ctx, logging.CategorySemantic).Debug("downgrading low confidence verdict",
				zap.Float64("confidence", confidence), zap.Float64("min_confidence", v.minConfidence))
			intentMatch, partialMatch = false, intentMatch
		}
	}

	logging.Semantic("semantic verdict for %s: intent=%t partial=%t confidence=%.2f",
		intent.Identifier, intentMatch, partialMatch, confidence)
	return types.NewSemanticResult(intentMatch, partialMatch, confidence, resp.Explanation, intentSummary, behaviorSummary)
}

func malformed(err error) error {
	return &types.ExtractionError{Cause: types.CauseMalformedResponse, Task: string(reasoning.TaskExplainQuery), Err: err}
}

// =============================================================================
// FACET COVERAGE
// =============================================================================

// Coverage records which intent facets a query satisfies. The identifier is
// always a facet; the others count only when the intent names them.
type Coverage struct {
	Matched []string
	Missing []string
}

// Ratio is the satisfied share of the considered facets.
func (c Coverage) Ratio() float64 {
	total := len(c.Matched) + len(c.Missing)
	if total == 0 {
		return 1
	}
	return float64(len(c.Matched)) / float64(total)
}

// Score maps the coverage ratio onto the 1..5 scale used by five point
// scoring, so full coverage is 5 and a lone identifier out of five facets is 2.
func (c Coverage) Score() int {
	return 1 + int(math.Round(c.Ratio()*4))
}

// Explain renders the coverage for a result explanation.
func (c Coverage) Explain() string {
	msg := fmt.Sprintf("Facet coverage %d/%d; matched: %s", len(c.Matched), len(c.Matched)+len(c.Missing), strings.Join(c.Matched, ", "))
	if len(c.Missing) > 0 {
		msg += "; missing: " + strings.Join(c.Missing, ", ")
	}
	return msg + "."
}

// Cover compares facts against intent facet by facet.
func Cover(intent *types.QueryIntent, facts QueryFacts) Coverage {
	var c Coverage
	check := func(ok bool, matched, missing string) {
		if ok {
			c.Matched = append(c.Matched, matched)
		} else {
			c.Missing = append(c.Missing, missing)
		}
	}

	check(facts.Found, "identifier", "identifier "+intent.Identifier)

	if len(intent.Aggregations) > 0 {
		check(aggregationCompatible(intent.Aggregations, facts.Functions),
			"aggregation", "aggregation "+formatSuggestions(intent.Aggregations))
	}
	if len(intent.Filters) > 0 {
		var absent []string
		for _, k := range intent.FilterKeys() {
			if got, ok := facts.Filters[k]; !ok || got != intent.Filters[k] {
				absent = append(absent, k+"="+intent.Filters[k])
			}
		}
		check(len(absent) == 0, "filters", "filters "+strings.Join(absent, ", "))
	}
	if intent.Window != "" {
		check(windowPresent(intent.Window, facts.Windows), "window", "window "+intent.Window)
	}
	if len(intent.GroupBy) > 0 {
		var absent []string
		for _, g := range intent.GroupBy {
			if !containsFold(facts.GroupBy, g) {
				absent = append(absent, g)
			}
		}
		check(len(absent) == 0, "group by", "group by "+strings.Join(absent, ", "))
	}
	return c
}

// quantileLike are the functions that all answer "what is the Nth percentile".
var quantileLike = map[string]bool{
	string(types.AggQuantile):          true,
	string(types.AggQuantileOverTime):  true,
	string(types.AggHistogramQuantile): true,
}

func aggregationCompatible(suggested []types.AggregationSuggestion, applied []string) bool {
	for _, s := range suggested {
		want := string(s.Kind)
		for _, fn := range applied {
			if fn == want || (quantileLike[fn] && quantileLike[want]) {
				return true
			}
			if f := types.FamilyOf(fn); f != types.FamilyOther && f == types.FamilyOf(want) {
				return true
			}
		}
	}
	return false
}

func windowPresent(want string, windows []string) bool {
	for _, w := range windows {
		if sameDuration(want, w) {
			return true
		}
	}
	return false
}

func sameDuration(a, b string) bool {
	da, errA := model.ParseDuration(a)
	db, errB := model.ParseDuration(b)
	if errA == nil && errB == nil {
		return da == db
	}
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func containsFold(list []string, s string) bool {
	for _, x := range list {
		if strings.EqualFold(x, s) {
			return true
		}
	}
	return false
}

// =============================================================================
// SUMMARIES
// =============================================================================

// SummarizeIntent describes intent in one sentence.
func SummarizeIntent(intent *types.QueryIntent) string {
	var sb strings.Builder
	if len(intent.Aggregations) > 0 {
		fmt.Fprintf(&sb, "Compute %s of ", formatSuggestions(intent.Aggregations))
	} else {
		sb.WriteString("Select ")
	}
	if intent.Kind != "" && intent.Kind != types.KindUnknown {
		sb.WriteString(string(intent.Kind) + " ")
	}
	sb.WriteString(intent.Identifier)
	if f := formatFilters(intent); f != "" {
		sb.WriteString(" where " + f)
	}
	if intent.Window != "" {
		sb.WriteString(" over " + intent.Window)
	}
	if len(intent.GroupBy) > 0 {
		sb.WriteString(" grouped by " + strings.Join(intent.GroupBy, ", "))
	}
	return sb.String() + "."
}

// SummarizeBehavior describes what the query does to the identifier.
func SummarizeBehavior(facts QueryFacts) string {
	if !facts.Found {
		return fmt.Sprintf("Does not reference %s.", facts.Identifier)
	}
	var sb strings.Builder
	if len(facts.Functions) > 0 {
		fmt.Fprintf(&sb, "Applies %s to %s", strings.Join(facts.Functions, ", "), facts.Identifier)
	} else {
		sb.WriteString("Selects " + facts.Identifier)
	}
	if len(facts.Filters) > 0 {
		keys := make([]string, 0, len(facts.Filters))
		for k := range facts.Filters {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + facts.Filters[k]
		}
		sb.WriteString(" where " + strings.Join(parts, ", "))
	}
	if len(facts.Windows) > 0 {
		sb.WriteString(" over " + strings.Join(facts.Windows, ", "))
	}
	if len(facts.GroupBy) > 0 {
		sb.WriteString(" grouped by " + strings.Join(facts.GroupBy, ", "))
	}
	return sb.String() + "."
}
