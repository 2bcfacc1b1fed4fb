package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for workflow executions. A disabled
// Metrics accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	// Execution metrics
	executionsStarted   *prometheus.CounterVec
	executionsCompleted *prometheus.CounterVec
	executionDuration   *prometheus.HistogramVec
	activeExecutions    prometheus.Gauge

	// Node metrics
	nodeExecutions *prometheus.CounterVec
	nodeDuration   *prometheus.HistogramVec

	// Model metrics
	modelCalls     *prometheus.CounterVec
	modelDuration  *prometheus.HistogramVec
	modelErrors    *prometheus.CounterVec
	modelFailovers *prometheus.CounterVec

	// Build and repair loop
	builds        *prometheus.CounterVec
	buildDuration prometheus.Histogram
	fixRetries    prometheus.Counter
	forcedPasses  prometheus.Counter

	assetsCollected *prometheus.CounterVec
	assetFailures   *prometheus.CounterVec
	policyDenials   *prometheus.CounterVec
	errorsByCode    *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		executionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_started_total",
				Help:      "Total number of workflow executions started",
			},
			[]string{"generation_type"},
		),
		executionsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_completed_total",
				Help:      "Total number of workflow executions completed",
			},
			[]string{"status"},
		),
		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Duration of workflow executions in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		activeExecutions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_executions",
				Help:      "Current number of running workflow executions",
			},
		),

		nodeExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_executions_total",
				Help:      "Total number of node visits",
			},
			[]string{"node", "status"},
		),
		nodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_duration_seconds",
				Help:      "Duration of node visits in seconds",
				Buckets:   buckets,
			},
			[]string{"node"},
		),

		modelCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_calls_total",
				Help:      "Total number of model backend calls",
			},
			[]string{"backend", "operation"},
		),
		modelDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "model_call_duration_seconds",
				Help:      "Duration of model backend calls in seconds",
				Buckets:   buckets,
			},
			[]string{"backend", "operation"},
		),
		modelErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_errors_total",
				Help:      "Total number of failed model backend calls",
			},
			[]string{"backend", "operation"},
		),
		modelFailovers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_failovers_total",
				Help:      "Total number of times a failing backend was skipped",
			},
			[]string{"from"},
		),

		builds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builds_total",
				Help:      "Total number of project builds",
			},
			[]string{"status"},
		),
		buildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "build_duration_seconds",
				Help:      "Duration of project builds in seconds",
				Buckets:   buckets,
			},
		),
		fixRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fix_retries_total",
				Help:      "Total number of code fix attempts",
			},
		),
		forcedPasses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forced_passes_total",
				Help:      "Total number of builds passed after exhausting fix retries",
			},
		),

		assetsCollected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assets_collected_total",
				Help:      "Total number of collected image assets",
			},
			[]string{"category"},
		),
		assetFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "asset_failures_total",
				Help:      "Total number of failed asset collection tasks",
			},
			[]string{"category"},
		),
		policyDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_denials_total",
				Help:      "Total number of file or SQL operations denied by policy",
			},
			[]string{"kind"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of engine errors by code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.executionsStarted,
		m.executionsCompleted,
		m.executionDuration,
		m.activeExecutions,
		m.nodeExecutions,
		m.nodeDuration,
		m.modelCalls,
		m.modelDuration,
		m.modelErrors,
		m.modelFailovers,
		m.builds,
		m.buildDuration,
		m.fixRetries,
		m.forcedPasses,
		m.assetsCollected,
		m.assetFailures,
		m.policyDenials,
		m.errorsByCode,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m, nil
}

// Enabled reports whether metrics are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.registry != nil
}

// Registry returns the registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordExecutionStarted counts a started execution.
func (m *Metrics) RecordExecutionStarted(generationType string) {
	if !m.Enabled() {
		return
	}
	m.executionsStarted.WithLabelValues(generationType).Inc()
	m.activeExecutions.Inc()
}

// RecordExecutionCompleted records the status and duration of an execution.
func (m *Metrics) RecordExecutionCompleted(status string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.executionsCompleted.WithLabelValues(status).Inc()
	m.executionDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeExecutions.Dec()
}

// RecordNodeExecution records one node visit.
func (m *Metrics) RecordNodeExecution(node, status string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.nodeExecutions.WithLabelValues(node, status).Inc()
	m.nodeDuration.WithLabelValues(node).Observe(duration.Seconds())
}

// RecordModelCall records a model backend call with its duration.
func (m *Metrics) RecordModelCall(backend, operation string, duration time.Duration, err error) {
	if !m.Enabled() {
		return
	}
	m.modelCalls.WithLabelValues(backend, operation).Inc()
	m.modelDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	if err != nil {
		m.modelErrors.WithLabelValues(backend, operation).Inc()
	}
}

// RecordModelFailover counts a skip past a failing backend.
func (m *Metrics) RecordModelFailover(from string) {
	if !m.Enabled() {
		return
	}
	m.modelFailovers.WithLabelValues(from).Inc()
}

// RecordBuild records a project build.
func (m *Metrics) RecordBuild(success bool, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.builds.WithLabelValues(status).Inc()
	m.buildDuration.Observe(duration.Seconds())
}

// RecordFixRetry counts a code fix attempt.
func (m *Metrics) RecordFixRetry() {
	if !m.Enabled() {
		return
	}
	m.fixRetries.Inc()
}

// RecordForcedPass counts a build passed after the retry limit.
func (m *Metrics) RecordForcedPass() {
	if !m.Enabled() {
		return
	}
	m.forcedPasses.Inc()
}

// RecordAssets records collected assets and failed tasks of a category.
func (m *Metrics) RecordAssets(category string, collected, failed int) {
	if !m.Enabled() {
		return
	}
	m.assetsCollected.WithLabelValues(category).Add(float64(collected))
	m.assetFailures.WithLabelValues(category).Add(float64(failed))
}

// RecordPolicyDenial counts a denied file or SQL operation.
func (m *Metrics) RecordPolicyDenial(kind string) {
	if !m.Enabled() {
		return
	}
	m.policyDenials.WithLabelValues(kind).Inc()
}

// RecordError counts an engine error code.
func (m *Metrics) RecordError(code string) {
	if !m.Enabled() || code == "" {
		return
	}
	m.errorsByCode.WithLabelValues(code).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
