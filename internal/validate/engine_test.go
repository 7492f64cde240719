package validate

import (
	"context"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querygate/internal/config"
	"querygate/internal/membership"
	"querygate/internal/reasoning"
	"querygate/internal/telemetry"
	"querygate/internal/types"
)

const orders types.Namespace = "prod:orders"

func newEngine(t *testing.T, catalog map[types.Namespace][]string, mutate func(*Options)) (*Engine, *prometheus.Registry) {
	t.Helper()
	store := membership.NewMemoryStore()
	for ns, ids := range catalog {
		require.NoError(t, store.SetAll(context.Background(), ns, ids))
	}
	reg := prometheus.NewRegistry()
	opts := Options{Store: store, Metrics: telemetry.NewMetrics(reg)}
	if mutate != nil {
		mutate(&opts)
	}
	e, err := New(opts)
	require.NoError(t, err)
	return e, reg
}

func intent(t *testing.T, in types.QueryIntent) *types.QueryIntent {
	t.Helper()
	out, err := types.NewQueryIntent(in)
	require.NoError(t, err)
	return out
}

func scenarioAIntent(t *testing.T) *types.QueryIntent {
	return intent(t, types.QueryIntent{
		Identifier:   "http_requests_total",
		Kind:         types.KindCounter,
		Filters:      map[string]string{"status": "500"},
		Window:       "5m",
		Aggregations: []types.AggregationSuggestion{{Kind: types.AggRate}},
	})
}

func stageNames(r types.ValidationReport) []types.Stage {
	var out []types.Stage
	for _, s := range r.Stages {
		out = append(out, s.Stage)
	}
	return out
}

func TestScenarioAFullPass(t *testing.T) {
	e, reg := newEngine(t, map[types.Namespace][]string{orders: {"http_requests_total"}}, nil)

	report, err := e.Validate(context.Background(), types.LanguagePromQL, orders,
		`rate(http_requests_total{status="500"}[5m])`, scenarioAIntent(t))
	require.NoError(t, err)

	assert.True(t, report.IsValid)
	assert.Equal(t, types.StageSemantic, report.StoppedAt)
	assert.Equal(t, []types.Stage{types.StageSyntax, types.StageSchema, types.StageSemantic}, stageNames(report))

	sem, ok := report.Stage(types.StageSemantic)
	require.True(t, ok)
	assert.True(t, sem.Semantic.IntentMatch)
	assert.False(t, sem.Semantic.PartialMatch)

	n, err := testutil.GatherAndCount(reg, "querygate_validations_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestScenarioBUnknownMetric(t *testing.T) {
	e, _ := newEngine(t, map[types.Namespace][]string{orders: {"http_requests_total"}}, nil)

	report, err := e.Validate(context.Background(), types.LanguagePromQL, orders,
		`rate(http_request_count[5m])`, scenarioAIntent(t))
	require.NoError(t, err)

	assert.False(t, report.IsValid)
	assert.Equal(t, types.StageSchema, report.StoppedAt)
	assert.Equal(t, []types.Stage{types.StageSyntax, types.StageSchema}, stageNames(report))

	sch, _ := report.Stage(types.StageSchema)
	assert.Equal(t, []string{"http_request_count"}, sch.Schema.InvalidIdentifiers)
	_, ran := report.Stage(types.StageSemantic)
	assert.False(t, ran)
}

func TestScenarioCRateOnGauge(t *testing.T) {
	e, _ := newEngine(t, map[types.Namespace][]string{orders: {"memory_usage_bytes"}}, nil)

	report, err := e.Validate(context.Background(), types.LanguagePromQL, orders,
		`rate(memory_usage_bytes[5m])`, intent(t, types.QueryIntent{
			Identifier:   "memory_usage_bytes",
			Kind:         types.KindGauge,
			Aggregations: []types.AggregationSuggestion{{Kind: types.AggAvgOverTime}},
		}))
	require.NoError(t, err)

	assert.False(t, report.IsValid)
	assert.Equal(t, types.StageSemantic, report.StoppedAt)
	sem, _ := report.Stage(types.StageSemantic)
	assert.False(t, sem.Semantic.IntentMatch)
	assert.False(t, sem.Semantic.PartialMatch)
}

func TestScenarioDEmptyCatalog(t *testing.T) {
	e, _ := newEngine(t, nil, nil)

	report, err := e.Validate(context.Background(), types.LanguagePromQL, "staging:empty",
		`sum(rate(zeta_total[5m])) / sum(rate(alpha_total[5m]))`, nil)
	require.NoError(t, err)

	assert.False(t, report.IsValid)
	sch, _ := report.Stage(types.StageSchema)
	assert.Equal(t, []string{"alpha_total", "zeta_total"}, sch.Schema.InvalidIdentifiers)
	assert.Equal(t, "Found 2 invalid identifier(s) in namespace 'staging:empty': 'alpha_total', 'zeta_total'",
		sch.Schema.ErrorMessage)
}

func TestScenarioEGraphSyntaxError(t *testing.T) {
	e, _ := newEngine(t, nil, nil)

	report, err := e.Validate(context.Background(), types.LanguageGraphDSL, orders,
		`MATCH (n:Person RETURN n`, nil)
	require.NoError(t, err)

	assert.False(t, report.IsValid)
	assert.Equal(t, types.StageSyntax, report.StoppedAt)
	require.Len(t, report.Stages, 1)
	syn := report.Stages[0].Syntax
	assert.Equal(t, 1, syn.Line)
	assert.Equal(t, 17, syn.Column)
	assert.Equal(t, "MATCH (n:Person RETURN n", syn.ContextSnippet)
}

func TestNilIntentStopsAfterSchema(t *testing.T) {
	e, _ := newEngine(t, map[types.Namespace][]string{orders: {"up"}}, nil)

	report, err := e.Validate(context.Background(), types.LanguagePromQL, orders, `up`, nil)
	require.NoError(t, err)
	assert.True(t, report.IsValid)
	assert.Equal(t, types.StageSchema, report.StoppedAt)
	assert.Len(t, report.Stages, 2)
}

func TestValidateIsIdempotent(t *testing.T) {
	e, _ := newEngine(t, map[types.Namespace][]string{orders: {"http_requests_total"}}, nil)
	ctx := context.Background()

	queries := []string{
		`rate(http_requests_total{status="500"}[5m])`,
		`rate(http_request_count[5m])`,
		`rate(http_requests_total{status="500"}[5m]`,
	}
	for _, q := range queries {
		first, err := e.Validate(ctx, types.LanguagePromQL, orders, q, scenarioAIntent(t))
		require.NoError(t, err)
		second, err := e.Validate(ctx, types.LanguagePromQL, orders, q, scenarioAIntent(t))
		require.NoError(t, err)
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("report for %q changed between calls (-first +second):\n%s", q, diff)
		}
	}
}

func TestConcurrentEnginesWithDifferentOptions(t *testing.T) {
	catalog := map[types.Namespace][]string{orders: {"http_requests_total"}}
	boolean, _ := newEngine(t, catalog, nil)
	strict, _ := newEngine(t, catalog, func(o *Options) {
		o.Semantic.Reasoner = reasoning.ClientFunc(func(ctx context.Context, req reasoning.Request) (string, error) {
			return `{"score": 2}`, nil
		})
		o.Semantic.Scoring = "five_point"
	})

	in := scenarioAIntent(t)
	var wg sync.WaitGroup
	results := make([]bool, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := boolean
			if i%2 == 1 {
				e = strict
			}
			r, err := e.Validate(context.Background(), types.LanguagePromQL, orders,
				`rate(http_requests_total{status="500"}[5m])`, in)
			if err == nil {
				results[i] = r.IsValid
			}
		}(i)
	}
	wg.Wait()

	for i, valid := range results {
		assert.Equal(t, i%2 == 0, valid, "run %d", i)
	}
}

func TestInfrastructureErrorsAreNotReports(t *testing.T) {
	store := membership.NewMemoryStore()
	require.NoError(t, store.Close())
	e, err := New(Options{Store: store})
	require.NoError(t, err)

	report, err := e.Validate(context.Background(), types.LanguagePromQL, orders, `up`, nil)
	require.Error(t, err)
	assert.True(t, types.IsInfrastructure(err))
	var se *types.StoreError
	assert.True(t, errors.As(err, &se))
	assert.Empty(t, report.Stages)
}

func TestReasonerFailureIsExtractionError(t *testing.T) {
	e, _ := newEngine(t, map[types.Namespace][]string{orders: {"http_requests_total"}}, func(o *Options) {
		o.Semantic.Reasoner = reasoning.ClientFunc(func(ctx context.Context, req reasoning.Request) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Validate(ctx, types.LanguagePromQL, orders, `rate(http_requests_total{status="500"}[5m])`, scenarioAIntent(t))
	cause, ok := types.CauseOf(err)
	require.True(t, ok)
	assert.Equal(t, types.CauseTimeout, cause)
}

func TestDelegatedExtractor(t *testing.T) {
	e, _ := newEngine(t, map[types.Namespace][]string{orders: {"orders_total"}}, func(o *Options) {
		o.Extractor = extractorFunc(func(ctx context.Context, lang types.QueryLanguage, expr string) (types.IdentifierSet, error) {
			return types.NewIdentifierSet([]string{"orders_total", "ghost_metric"}, 0.9), nil
		})
	})

	report, err := e.Validate(context.Background(), types.LanguagePromQL, orders, `orders_total`, nil)
	require.NoError(t, err)
	sch, _ := report.Stage(types.StageSchema)
	assert.Equal(t, []string{"ghost_metric"}, sch.Schema.InvalidIdentifiers)
}

func TestCallerErrors(t *testing.T) {
	e, _ := newEngine(t, nil, nil)
	ctx := context.Background()

	_, err := e.Validate(ctx, "sql", orders, `select 1`, nil)
	assert.ErrorIs(t, err, types.ErrUnknownLanguage)

	_, err = e.Validate(ctx, types.LanguagePromQL, " ", `up`, nil)
	assert.ErrorIs(t, err, types.ErrEmptyNamespace)

	_, err = New(Options{})
	assert.Error(t, err)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	store := membership.NewMemoryStore()

	opts, err := OptionsFromConfig(cfg, store, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, opts.Extractor)
	assert.Nil(t, opts.Semantic.Reasoner)
	assert.Equal(t, 20, opts.Schema.BulkFetchThreshold)

	cfg.Semantic.Reasoner = true
	_, err = OptionsFromConfig(cfg, store, nil, nil)
	assert.Error(t, err)

	client := reasoning.ClientFunc(func(ctx context.Context, req reasoning.Request) (string, error) { return "{}", nil })
	cfg.Extraction.Strategy = "delegated"
	opts, err = OptionsFromConfig(cfg, store, client, nil)
	require.NoError(t, err)
	assert.NotNil(t, opts.Extractor)
	assert.NotNil(t, opts.Semantic.Reasoner)

	cfg.Semantic.Scoring = "fuzzy"
	_, err = OptionsFromConfig(cfg, store, client, nil)
	assert.Error(t, err)
}

type extractorFunc func(ctx context.Context, lang types.QueryLanguage, expr string) (types.IdentifierSet, error)

func (f extractorFunc) Extract(ctx context.Context, lang types.QueryLanguage, expr string) (types.IdentifierSet, error) {
	return f(ctx, lang, expr)
}
