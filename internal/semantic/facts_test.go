package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querygate/internal/grammar"
	"querygate/internal/types"
)

func collect(t *testing.T, lang types.QueryLanguage, query string, intent types.QueryIntent) QueryFacts {
	t.Helper()
	tree, err := grammar.Default().Parse(lang, query)
	require.NoError(t, err)
	in, err := types.NewQueryIntent(intent)
	require.NoError(t, err)
	return CollectFacts(lang, tree, in)
}

func TestCollectFactsPromQL(t *testing.T) {
	f := collect(t, types.LanguagePromQL,
		`sum by (job) (rate(http_requests_total{job="api", code="500"}[5m]))`,
		types.QueryIntent{Identifier: "http_requests_total", Kind: types.KindCounter})

	assert.True(t, f.Found)
	assert.Equal(t, []string{"rate", "sum"}, f.Functions)
	assert.Equal(t, map[string]string{"job": "api", "code": "500"}, f.Filters)
	assert.Equal(t, []string{"5m"}, f.Windows)
	assert.Equal(t, []string{"job"}, f.GroupBy)
}

func TestCollectFactsPromQLUppercaseKeywords(t *testing.T) {
	f := collect(t, types.LanguagePromQL,
		`SUM BY (job) (rate(http_requests_total[5m]))`,
		types.QueryIntent{Identifier: "http_requests_total", Kind: types.KindCounter})

	assert.Equal(t, []string{"rate", "sum"}, f.Functions)
	assert.Equal(t, []string{"job"}, f.GroupBy)
}

func TestCollectFactsEqualityMatchersOnly(t *testing.T) {
	tests := []struct {
		name  string
		lang  types.QueryLanguage
		query string
		id    string
		want  map[string]string
	}{
		{"promql mixed matchers", types.LanguagePromQL,
			`rate(http_requests_total{job="api", status!="500", code=~"5..", path!~"/health"}[5m])`,
			"http_requests_total", map[string]string{"job": "api"}},
		{"promql negated only", types.LanguagePromQL,
			`rate(http_requests_total{status!="500"}[5m])`, "http_requests_total", nil},
		{"logql stream matchers", types.LanguageLogQL,
			`{app!="api", env="prod", team=~"core.*"} |= "error"`, "app", map[string]string{"env": "prod"}},
		{"logql label filters", types.LanguageLogQL,
			`{app="api"} | logfmt | level == "error" and status != "200" and code >= 500`,
			"app", map[string]string{"app": "api", "level": "error"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := collect(t, tt.lang, tt.query, types.QueryIntent{Identifier: tt.id})
			assert.True(t, f.Found)
			assert.Equal(t, tt.want, f.Filters)
		})
	}
}

func TestCollectFactsPromQLOnlyFollowsIdentifierBranch(t *testing.T) {
	f := collect(t, types.LanguagePromQL,
		`rate(a_total[5m]) / avg_over_time(b_total[1h])`,
		types.QueryIntent{Identifier: "a_total", Kind: types.KindCounter})

	assert.Equal(t, []string{"rate"}, f.Functions)
	assert.Equal(t, []string{"5m"}, f.Windows)
}

func TestCollectFactsPromQLWithoutIsNotGrouping(t *testing.T) {
	f := collect(t, types.LanguagePromQL,
		`sum without (instance) (up)`,
		types.QueryIntent{Identifier: "up", Kind: types.KindGauge})

	assert.Equal(t, []string{"sum"}, f.Functions)
	assert.Empty(t, f.GroupBy)
}

func TestCollectFactsHistogramSeries(t *testing.T) {
	f := collect(t, types.LanguagePromQL,
		`histogram_quantile(0.95, sum by (le) (rate(http_request_duration_seconds_bucket[5m])))`,
		types.QueryIntent{Identifier: "http_request_duration_seconds", Kind: types.KindHistogram})

	assert.True(t, f.Found)
	assert.Equal(t, []string{"rate", "sum", "histogram_quantile"}, f.Functions)
	assert.Equal(t, []string{"le"}, f.GroupBy)

	// Only distribution kinds accept the exported series names.
	g := collect(t, types.LanguagePromQL, `rate(jobs_bucket[5m])`,
		types.QueryIntent{Identifier: "jobs", Kind: types.KindCounter})
	assert.False(t, g.Found)
}

func TestCollectFactsAbsent(t *testing.T) {
	f := collect(t, types.LanguagePromQL, `up`, types.QueryIntent{Identifier: "node_load1"})
	assert.False(t, f.Found)
	assert.Empty(t, f.Functions)
}

func TestCollectFactsLogQL(t *testing.T) {
	f := collect(t, types.LanguageLogQL,
		`sum by (level) (count_over_time({app="api", env="prod"} |= "error" [5m]))`,
		types.QueryIntent{Identifier: "app"})

	assert.True(t, f.Found)
	assert.Equal(t, []string{"count_over_time", "sum"}, f.Functions)
	assert.Equal(t, map[string]string{"app": "api", "env": "prod"}, f.Filters)
	assert.Equal(t, []string{"5m"}, f.Windows)
	assert.Equal(t, []string{"level"}, f.GroupBy)
}

func TestCollectFactsSearchDSL(t *testing.T) {
	f := collect(t, types.LanguageSearchDSL,
		`search index=web status=500 | stats count, perc95(latency) by host`,
		types.QueryIntent{Identifier: "status"})

	assert.True(t, f.Found)
	assert.Equal(t, []string{"count", "quantile"}, f.Functions)
	assert.Equal(t, map[string]string{"index": "web", "status": "500"}, f.Filters)
	assert.Equal(t, []string{"host"}, f.GroupBy)
}

func TestCollectFactsSearchDSLTimechartSpan(t *testing.T) {
	f := collect(t, types.LanguageSearchDSL,
		`search sourcetype=access | timechart span=5m avg(bytes)`,
		types.QueryIntent{Identifier: "sourcetype"})

	assert.Equal(t, []string{"avg"}, f.Functions)
	assert.Equal(t, []string{"5m"}, f.Windows)
}

func TestCollectFactsGraphDSL(t *testing.T) {
	f := collect(t, types.LanguageGraphDSL,
		`MATCH (p:Person {city: "Berlin"}) WHERE p.active = true RETURN p.name, count(*)`,
		types.QueryIntent{Identifier: "Person"})

	assert.True(t, f.Found)
	assert.Equal(t, []string{"count"}, f.Functions)
	assert.Equal(t, map[string]string{"city": "Berlin", "active": "true"}, f.Filters)
	assert.Equal(t, []string{"name"}, f.GroupBy)
}

func TestCollectFactsGraphDSLNoAggregateNoGrouping(t *testing.T) {
	f := collect(t, types.LanguageGraphDSL,
		`MATCH (a:Account)-[:OWNS]->(c:Card) RETURN a.id, c.number`,
		types.QueryIntent{Identifier: "OWNS"})

	assert.True(t, f.Found)
	assert.Empty(t, f.Functions)
	assert.Empty(t, f.GroupBy)
}
