package grammar

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querygate/internal/types"
)

type grammarCase struct {
	lang    types.QueryLanguage
	valid   []string
	invalid []string
}

var languageCases = []grammarCase{
	{
		lang: types.LanguagePromQL,
		valid: []string{
			`up`,
			`http_requests_total{method="GET",code=~"5.."}`,
			`rate(http_requests_total[5m])`,
			`sum by (job) (rate(http_requests_total[5m]))`,
			`sum(rate(http_requests_total[5m])) by (job)`,
			`count_values("code", http_requests_total)`,
			`topk(5, http_requests_total)`,
			`quantile(0.95, http_request_duration_seconds)`,
			`histogram_quantile(0.95, sum by (le) (rate(http_request_duration_seconds_bucket[5m])))`,
			`up offset 5m`,
			`up offset -5m`,
			`up @ 1700000000`,
			`up @ start()`,
			`up @ end()`,
			`up[10m:1m]`,
			`rate(up[5m])[30m:]`,
			`label_replace(up, "dst", "$1", "src", "(.*)")`,
			`up and on(job) node_boot_time_seconds`,
			`up * on(instance) group_left(job) node_info`,
			`up > bool on(job) vector(0)`,
			`-up + 2 ^ 3 * 4`,
			`{__name__="up", job="api"}`,
			"# a comment\nup",
			`sum without (instance) (rate(order_total[1h]))`,
			`SUM BY (job) (rate(http_requests_total[5m]))`,
			`Sum(rate(http_requests_total[5m])) Without (instance)`,
			`TOPK(5, up) OR Bool_metric`,
			`up AND ON(job) node_boot_time_seconds`,
			`up * IGNORING(instance) GROUP_LEFT(job) node_info`,
			`up > BOOL vector(0)`,
			`up OFFSET 5m`,
			`up @ START()`,
		},
		invalid: []string{
			`up +`,
			`{job="api"`,
			`rate(x[5m)`,
			`sum by (job) rate(x[5m])`,
			`up{job="api",}`,
			`up[5m::1m]`,
			`up @ start(`,
			`up{job=="api"}`,
			`rate(up[5])`,
			`sum`,
			`SUM`,
			`Rate(up[5m])`,
		},
	},
	{
		lang: types.LanguageLogQL,
		valid: []string{
			`{}`,
			`{job="varlogs"}`,
			`{job="varlogs", filename="/var/log/syslog"}`,
			`{job!="app"}`,
			`{job=~"app.*"}`,
			`{job!~"test.*"}`,
			`{job="app"} |= "error"`,
			`{job="app"} |~ "error|warn"`,
			`{job="app"} != "debug"`,
			`{job="app"} !~ "trace"`,
			`{job="app"} |= "error" |= "timeout"`,
			`{job="app"} | json`,
			`{job="app"} | json |= "error"`,
			`{service="payments", namespace="prod"} |~ "error|critical" |= "transaction"`,
			`{url="http://example.com"}`,
			`{_internal="true"}`,
			`{  job  =  "app"  }`,
			`{job="app"}  |=  "error"`,
			`{job="app"} | logfmt | level="error" and status >= 500`,
			`{job="app"} | json first="servers[0]" | duration > 10s`,
			`{job="app"} | pattern "<ip> - <_>" | line_format "{{.ip}}"`,
			`{job="app"} | regexp "(?P<method>\\w+)" | drop method`,
			`{job="app"} |= "a" or "b"`,
			`rate({job="app"}[5m])`,
			`sum by (level) (count_over_time({job="app"} | json [5m]))`,
			`topk(5, sum by (host) (rate({job="app"} |= "error" [1m])))`,
			`quantile_over_time(0.99, {job="app"} | logfmt | unwrap duration(latency) [5m]) by (route)`,
			`sum(rate({job="a"}[5m])) / sum(rate({job="b"}[5m]))`,
		},
		invalid: []string{
			"{",
			"}",
			"{job}",
			"{job=}",
			`{="value"}`,
			`{job=="app"}`,
			"{job===app}",
			"{job=app}",
			`{job="app}`,
			`{job="app"} = "error"`,
			`{job="app"} ~ "error"`,
			`{job="app"} | "error"`,
			`{job="app"} |= `,
			`{job="app"} |~`,
			`{job="app"} |= "error"$`,
			`{job@="app"}`,
			`|= "error"`,
			"{} |=",
			`{job="app"} | json error`,
			`{job="app",}`,
			`{job="app" job="other"}`,
			`{{job="app"}}`,
			`{job="app"`,
			`job="app"}`,
		},
	},
	{
		lang: types.LanguageSearchDSL,
		valid: []string{
			"search",
			"search status=200",
			"search status!=404",
			"search count>100",
			"search count<50",
			"search count>=100",
			"search count<=50",
			"search status=200 method=GET",
			"search status=500 | head 10",
			"search status=500 | head",
			"search | stats count",
			"search | table host",
			"search | sort timestamp",
			"search | fields host",
			"search | timechart count",
			"search status=500 | head 100 | stats count",
			"search status=500 | fields host | head 20",
			"search (status=500)",
			"search host=server-01",
			"search _time>0",
			"search sourcetype=access_log",
			"search log-level=error",
			"search host.name=server01",
			"search _internal=true",
			"search   status=200   method=GET",
			`search status=500 OR status=502 NOT host="web 1"`,
			"search status=500 | stats count, avg(duration) as avg_dur by host",
			"search status=500 | timechart span=1h count by host",
			`search status=500 | where duration > 100 AND host != "a" | eval ms=duration*1000`,
			"search status=500 | top limit=5 host | rename host as server",
			"```find failures``` search status=500",
		},
		invalid: []string{
			"status=200",
			"| head 10",
			"error timeout",
			"index=main error",
			"search status==200",
			"search count===100",
			"search status<>404",
			"search status=",
			"search =200",
			"search status 200",
			"search (status=500",
			"search status=500)",
			"search ((status=500)",
			"search error |",
			"search | | head 10",
			"search error ||  head 10",
			"search status=500 ANDALSO status=502",
			"search error && timeout",
			"search error || warning",
			"search status@200",
			"search status=200;",
			"search status=200,",
			"search 123field=value",
		},
	},
	{
		lang: types.LanguageGraphDSL,
		valid: []string{
			"MATCH (n:Person) RETURN n",
			`MATCH (n:Person {name: "Alice"}) RETURN n`,
			"MATCH (n:Person {age: 30}) RETURN n",
			"MATCH (a:Person)-[:WORKS_AT]->(b:Company) RETURN a, b",
			"MATCH (a:Person)<-[:MANAGES]-(b:Person) RETURN a",
			"MATCH (a)-[:KNOWS]-(b) RETURN a",
			"MATCH (n:Person) WHERE n.age > 30 RETURN n",
			"MATCH (n:Product) WHERE n.price <= 10 RETURN n",
			`CREATE (n:Person {name: "Alice", age: 30})`,
			"MATCH (n:Person)",
			"match (n:Person:Employee) return n.name as name order by name desc skip 5 limit 10",
			"MATCH p=(a:Person)-[:KNOWS*1..3]->(b:Person) RETURN p",
			`MATCH (n:Person) WHERE n.name STARTS WITH "A" AND n.email IS NOT NULL RETURN DISTINCT n`,
			"MATCH (n) WHERE n.name = 'Bob' OR n.age IN [1, 2, 3] RETURN count(*)",
			"OPTIONAL MATCH (n:Person) WITH n, count(n) AS c WHERE c > 1 RETURN n",
			"UNWIND [1, 2, 3] AS x RETURN x",
			`MERGE (n:Person {name: $name}) ON CREATE SET n.created = timestamp()`,
			"MATCH (n:Person) DETACH DELETE n",
			"MATCH (n:Person) SET n:Admin REMOVE n.temp",
			"CALL db.labels() YIELD label",
			"MATCH (n:A) RETURN n UNION MATCH (m:B) RETURN m",
			"// people\nMATCH (n:Person) /* all */ RETURN n;",
			"MATCH (n:Person) RETURN CASE WHEN n.age > 18 THEN true ELSE false END",
			"MATCH (n:Person {name: 'Alice'}) RETURN n",
			`MATCH (n:Person {name: 'O\'Brien', tags: ['a', "b"]}) RETURN n`,
			"MATCH p=shortestPath((a:Person)-[:KNOWS*]-(b:Person)) RETURN p",
			"MATCH p = allShortestPaths((a:Person)-[*..5]-(b:Person)) RETURN length(p)",
			"MATCH shortestPath((a)-[:KNOWS*1..3]->(b)) RETURN a",
			"MATCH (a)-[r*2]->(b) RETURN r",
		},
		invalid: []string{
			"MATCH (n:",
			"MATCH (n:)",
			"MATCH n:Label",
			"MATCH (:Label",
			"MATCH Label)",
			"MATCH (a)-[:KNOWS->(b)",
			"MATCH (a)-[KNOWS]->(b)",
			"MATCH (a)-->(b)",
			"MATCH (a)-[:]->(b)",
			"MATCH (a)[:KNOWS](b)",
			"WHERE n.age > 30",
			"RETURN n",
			"(n:Person) RETURN n",
			"MATCH (n:Person) WHERE",
			"MATCH (n:Person {name: Alice}) RETURN n",
			"MATCH (n:Person) WHERE n.age > RETURN n",
			"MATCH (n) RETURN WHERE(n)",
			"MATCH p=shortestPath(a)-->(b) RETURN p",
			"MATCH p=shortestPath((a)-[:KNOWS*]-(b) RETURN p",
			"MATCH (n:Person RETURN n",
		},
	},
}

func TestLanguageGrammars(t *testing.T) {
	reg := NewRegistry(nil)
	for _, lc := range languageCases {
		g, err := reg.Grammar(lc.lang)
		require.NoError(t, err, "embedded %s grammar must compile", lc.lang)

		t.Run(string(lc.lang)+"/valid", func(t *testing.T) {
			for _, q := range lc.valid {
				_, err := g.Parse(q)
				assert.NoError(t, err, "query should parse: %s", q)
			}
		})
		t.Run(string(lc.lang)+"/invalid", func(t *testing.T) {
			for _, q := range lc.invalid {
				_, err := g.Parse(q)
				var se *SyntaxError
				assert.True(t, errors.As(err, &se), "query should be rejected: %s", q)
			}
		})
	}
}

func TestGraphUnbalancedParenColumn(t *testing.T) {
	_, err := Default().Parse(types.LanguageGraphDSL, "MATCH (n:Person RETURN n")

	var se *SyntaxError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 1, se.Line)
	assert.Equal(t, 17, se.Column)
	assert.Equal(t, "RETURN", se.Found)
	assert.Contains(t, se.Expected, `")"`)
}

func TestGraphReservedWordIsNotAFunction(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		line   int
		column int
		found  string
	}{
		{"missing operand before RETURN", "MATCH (n:Person)\nWHERE n.age > RETURN n", 2, 15, "RETURN"},
		{"missing operand before LIMIT", "MATCH (n) RETURN n.age + LIMIT 5", 1, 26, "LIMIT"},
		{"missing operand before AND", "MATCH (n) WHERE n.a = AND n.b = 1 RETURN n", 1, 23, "AND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Default().Parse(types.LanguageGraphDSL, tt.query)
			var se *SyntaxError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.line, se.Line)
			assert.Equal(t, tt.column, se.Column)
			assert.Equal(t, tt.found, se.Found)
		})
	}
}

func TestCorruptedTokenLocation(t *testing.T) {
	// Each corruption of a valid query must be reported inside or right after
	// the corrupted region.
	tests := []struct {
		lang        types.QueryLanguage
		query       string
		regionStart int
		regionEnd   int
	}{
		{types.LanguagePromQL, `rate(http_requests_total{status="500"}[5m)`, 41, 42},
		{types.LanguagePromQL, `rate(http_requests_total{status="500}[5m])`, 32, 43},
		{types.LanguagePromQL, `rate(http_requests_total{status=="500"}[5m])`, 32, 33},
		{types.LanguageLogQL, `{job="app"} |= "error`, 15, 21},
		{types.LanguageSearchDSL, `search status=500 | head 10 |`, 29, 29},
		{types.LanguageGraphDSL, `MATCH (a)-[:KNOWS->(b) RETURN a`, 17, 18},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			_, err := Default().Parse(tt.lang, tt.query)
			var se *SyntaxError
			require.True(t, errors.As(err, &se))
			assert.GreaterOrEqual(t, se.Offset, tt.regionStart)
			assert.LessOrEqual(t, se.Offset, tt.regionEnd)
		})
	}
}

func TestIdentifierRules(t *testing.T) {
	tests := []struct {
		lang  types.QueryLanguage
		query string
		want  []string
	}{
		{types.LanguagePromQL, `sum(rate(http_requests_total{job="api"}[5m])) / on(job) up`, []string{"http_requests_total", "up"}},
		{types.LanguagePromQL, `{__name__="node_load1"}`, []string{`"node_load1"`}},
		{types.LanguageLogQL, `{job="app", env="prod"} | json | level="error"`, []string{"job", "env"}},
		{types.LanguageSearchDSL, `search status=500 host=web | stats count by region`, []string{"status", "host"}},
		{types.LanguageGraphDSL, `MATCH (a:Person)-[:WORKS_AT]->(c:Company) RETURN a`, []string{"Person", "WORKS_AT", "Company"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.lang), func(t *testing.T) {
			tree, err := Default().Parse(tt.lang, tt.query)
			require.NoError(t, err)
			var got []string
			for _, n := range tree.Identifiers() {
				got = append(got, tree.Text(n))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegistryUnknownLanguage(t *testing.T) {
	_, err := Default().Grammar("sql")
	assert.True(t, errors.Is(err, types.ErrUnknownLanguage))
}
