package telemetry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordOnInjectedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveStage("promql", "syntax", OutcomePass, time.Millisecond)
	m.ObserveStage("promql", "syntax", OutcomePass, time.Millisecond)
	m.ObserveStage("logql", "schema", OutcomeFail, time.Millisecond)
	m.CountStrategy("bulk")
	m.CountReasoning("explain_query", "rate_limit")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.validations.WithLabelValues("promql", "syntax", OutcomePass)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.schemaStrategy.WithLabelValues("bulk")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reasoningRequests.WithLabelValues("explain_query", "rate_limit")))

	expected := `
# HELP querygate_schema_strategy_total Membership strategy chosen by the schema stage
# TYPE querygate_schema_strategy_total counter
querygate_schema_strategy_total{strategy="bulk"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "querygate_schema_strategy_total"))
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(nil)
		NewMetrics(nil)
	})
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveStage("promql", "syntax", OutcomePass, 0)
		m.CountStrategy("skip")
		m.CountReasoning("extract_identifiers", "ok")
	})
}

func TestStartStage(t *testing.T) {
	ctx, span := StartStage(context.Background(), "syntax", "promql")
	defer span.End()
	assert.NotNil(t, ctx)
}
