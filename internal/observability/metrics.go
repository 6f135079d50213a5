// File: internal/observability/metrics.go
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xkilldash9x/tmscan/api/schemas"
	"github.com/xkilldash9x/tmscan/internal/analysis/core"
)

const namespace = "tmscan"

// Metrics holds the Prometheus collectors for analysis and the HTTP API.
// Each instance owns its registry so tests and embedded servers never collide.
type Metrics struct {
	RuleExecutions     *prometheus.CounterVec
	RuleDuration       *prometheus.HistogramVec
	ThreatsTotal       *prometheus.CounterVec
	AnalysesTotal      prometheus.Counter
	MappingDiagnostics *prometheus.CounterVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a registry with every collector registered, plus the
// standard Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RuleExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_executions_total",
			Help:      "Rule executions by rule, kind and outcome.",
		}, []string{"rule", "kind", "status"}),
		RuleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rule_duration_seconds",
			Help:      "Time spent in a single rule check.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"rule", "kind"}),
		ThreatsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threats_total",
			Help:      "Threats reported, by severity.",
		}, []string{"severity"}),
		AnalysesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Completed analysis runs.",
		}),
		MappingDiagnostics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mapping_diagnostics_total",
			Help:      "Diagram elements skipped or reported during mapping, by level.",
		}, []string{"level"}),
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// ObserveRule records a single rule execution.
func (m *Metrics) ObserveRule(ruleID string, kind core.RuleKind, elapsed time.Duration, _ int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RuleExecutions.WithLabelValues(ruleID, string(kind), status).Inc()
	m.RuleDuration.WithLabelValues(ruleID, string(kind)).Observe(elapsed.Seconds())
}

// ObserveReport counts a finished analysis and its threats.
func (m *Metrics) ObserveReport(report *schemas.AnalysisReport) {
	if report == nil {
		return
	}
	m.AnalysesTotal.Inc()
	for _, sev := range schemas.Severities {
		if n := report.Summary.Count(sev); n > 0 {
			m.ThreatsTotal.WithLabelValues(string(sev)).Add(float64(n))
		}
	}
}

// ObserveDiagnostics counts mapping diagnostics by level.
func (m *Metrics) ObserveDiagnostics(diags []schemas.Diagnostic) {
	for _, d := range diags {
		m.MappingDiagnostics.WithLabelValues(string(d.Level)).Inc()
	}
}

// RecordHTTPRequest records an HTTP request with its duration.
func (m *Metrics) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
