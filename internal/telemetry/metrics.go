// Package telemetry holds the Prometheus metrics and OpenTelemetry tracer
// shared by the validation stages.
package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the package tracer for engine spans.
var Tracer = otel.Tracer("querygate")

// Stage outcomes.
const (
	OutcomePass  = "pass"
	OutcomeFail  = "fail"
	OutcomeError = "error"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

// Metrics groups the querygate collectors registered on one Registerer.
type Metrics struct {
	// validations counts stage outcomes.
	// Labels: language, stage, outcome (pass, fail, error)
	validations *prometheus.CounterVec

	// schemaStrategy counts membership strategies used by the schema stage.
	// Labels: strategy (skip, bulk, per_item)
	schemaStrategy *prometheus.CounterVec

	// stageDuration measures per-stage latency.
	// Labels: stage
	stageDuration *prometheus.HistogramVec

	// reasoningRequests counts reasoner calls.
	// Labels: task, outcome (ok or an extraction cause)
	reasoningRequests *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg gets a private
// registry so tests and embedded engines never collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		validations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "querygate",
			Name:      "validations_total",
			Help:      "Validation stage outcomes",
		}, []string{"language", "stage", "outcome"}),
		schemaStrategy: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "querygate",
			Name:      "schema_strategy_total",
			Help:      "Membership strategy chosen by the schema stage",
		}, []string{"strategy"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "querygate",
			Name:      "stage_duration_seconds",
			Help:      "Validation stage latency in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"stage"}),
		reasoningRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "querygate",
			Name:      "reasoning_requests_total",
			Help:      "Reasoning capability calls by task and outcome",
		}, []string{"task", "outcome"}),
	}
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// Default returns metrics registered on the global Prometheus registry.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// ObserveStage records one stage run.
func (m *Metrics) ObserveStage(language, stage, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(language, stage, outcome).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// CountStrategy records the schema stage strategy.
func (m *Metrics) CountStrategy(strategy string) {
	if m == nil {
		return
	}
	m.schemaStrategy.WithLabelValues(strategy).Inc()
}

// CountReasoning records one reasoner call.
func (m *Metrics) CountReasoning(task, outcome string) {
	if m == nil {
		return
	}
	m.reasoningRequests.WithLabelValues(task, outcome).Inc()
}

// =============================================================================
// Tracing
// =============================================================================

// StartStage opens a span for one validation stage.
func StartStage(ctx context.Context, stage, language string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, "querygate."+stage,
		trace.WithAttributes(
			attribute.String("querygate.stage", stage),
			attribute.String("querygate.language", language),
		),
	)
}

// =============================================================================
// Exposure
// =============================================================================

// Serve exposes /metrics from g on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrapf(err, "metrics listener %s", addr)
	}
}
