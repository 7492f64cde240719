package semantic

import (
	"bytes"
	_ "embed"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"querygate/internal/logging"
	"querygate/internal/types"
)

//go:embed policy.mg
var defaultPolicySource []byte

// Defect is a kind/aggregation combination the policy rules out.
type Defect string

const (
	DefectRateOnGauge                 Defect = "rate_on_gauge"
	DefectDerivativeOnCounter         Defect = "derivative_on_counter"
	DefectPercentileOnNonDistribution Defect = "percentile_on_non_distribution"
	DefectCounterOverTimeWithoutRate  Defect = "counter_over_time_without_rate"
)

var defectText = map[Defect]string{
	DefectRateOnGauge:                 "a counter rate function (rate, irate, increase, resets) is applied to a gauge",
	DefectDerivativeOnCounter:         "a gauge function (delta, idelta, deriv, predict_linear) is applied to a counter",
	DefectPercentileOnNonDistribution: "a percentile is taken over a kind that is not a distribution",
	DefectCounterOverTimeWithoutRate:  "a counter is aggregated over time without taking its rate first",
}

// Describe returns a human readable description of d.
func (d Defect) Describe() string {
	if s, ok := defectText[d]; ok {
		return s
	}
	return string(d)
}

var defectQuery = ast.PredicateSym{Symbol: "defect", Arity: 1}

// Policy is an analyzed Mangle program deriving defect/1. The analyzed
// program is read-only, so one Policy serves concurrent evaluations.
type Policy struct {
	program *analysis.ProgramInfo
}

// NewPolicy parses and analyzes a policy program.
func NewPolicy(src []byte) (*Policy, error) {
	unit, err := parse.Unit(bytes.NewReader(src))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse kind policy")
	}
	program, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to analyze kind policy")
	}
	return &Policy{program: program}, nil
}

// LoadPolicy reads a policy program from path.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read kind policy %s", path)
	}
	return NewPolicy(data)
}

var (
	defaultPolicyOnce sync.Once
	defaultPolicy     *Policy
	defaultPolicyErr  error
)

// DefaultPolicy returns the embedded kind policy.
func DefaultPolicy() (*Policy, error) {
	defaultPolicyOnce.Do(func() {
		defaultPolicy, defaultPolicyErr = NewPolicy(defaultPolicySource)
	})
	return defaultPolicy, defaultPolicyErr
}

// Evaluate derives the defects for kind given the functions the query applies.
// The result is sorted.
func (p *Policy) Evaluate(kind types.IdentifierKind, facts QueryFacts) ([]Defect, error) {
	store := factstore.NewSimpleInMemoryStore()

	if kind == "" {
		kind = types.KindUnknown
	}
	kindName, err := ast.Name("/" + string(kind))
	if err != nil {
		return nil, errors.Wrapf(err, "kind %q", kind)
	}
	store.Add(ast.NewAtom("kind", kindName))

	for _, fn := range facts.Functions {
		family, err := ast.Name("/" + string(types.FamilyOf(fn)))
		if err != nil {
			return nil, errors.Wrapf(err, "family of %q", fn)
		}
		store.Add(ast.NewAtom("applied", ast.String(fn)))
		store.Add(ast.NewAtom("family", ast.String(fn), family))
	}

	stats, err := engine.EvalProgramWithStats(p.program, store)
	if err != nil {
		return nil, errors.Wrap(err, "kind policy evaluation failed")
	}
	logging.SemanticDebug("kind policy evaluated: %+v", stats)

	var defects []Defect
	err = store.GetFacts(ast.NewQuery(defectQuery), func(a ast.Atom) error {
		if c, ok := a.Args[0].(ast.Constant); ok {
			defects = append(defects, Defect(strings.TrimPrefix(c.Symbol, "/")))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "kind policy query failed")
	}
	slices.Sort(defects)
	return defects, nil
}
