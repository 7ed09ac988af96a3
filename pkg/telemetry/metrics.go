package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for configuration resolution. A nil
// *Metrics, or one created with metrics disabled, records nothing.
type Metrics struct {
	config MetricsConfig

	// Load metrics
	scopesLoaded *prometheus.CounterVec
	loadErrors   *prometheus.CounterVec
	merges       prometheus.Counter

	// Resolution metrics
	finalizeDuration prometheus.Histogram
	resolutions      *prometheus.CounterVec

	// Validation metrics
	findings    *prometheus.CounterVec
	watchReruns prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
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

		scopesLoaded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scopes_loaded_total",
				Help:      "Total number of configuration scopes loaded",
			},
			[]string{"format"},
		),
		loadErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "load_errors_total",
				Help:      "Total number of scope load and finalize failures",
			},
			[]string{"class"},
		),
		merges: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "merges_total",
				Help:      "Total number of configuration merges",
			},
		),

		finalizeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "finalize_duration_seconds",
				Help:      "Duration of configuration finalization in seconds",
				Buckets:   buckets,
			},
		),
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Total number of machine configurations resolved",
			},
			[]string{"provider", "status"},
		),

		findings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_findings_total",
				Help:      "Total number of validation findings by category",
			},
			[]string{"category"},
		),
		watchReruns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "watch_revalidations_total",
				Help:      "Total number of revalidations triggered by file changes",
			},
		),
	}

	registry.MustRegister(
		m.scopesLoaded,
		m.loadErrors,
		m.merges,
		m.finalizeDuration,
		m.resolutions,
		m.findings,
		m.watchReruns,
	)

	return m, nil
}

// MetricsFromContext returns the metrics of the telemetry in ctx, or nil.
func MetricsFromContext(ctx context.Context) *Metrics {
	if tel := FromTelemetryContext(ctx); tel != nil {
		return tel.Metrics
	}
	return nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Load Metrics

// RecordScopeLoaded counts a loaded scope by format.
func (m *Metrics) RecordScopeLoaded(format string) {
	if !m.enabled() {
		return
	}
	m.scopesLoaded.WithLabelValues(format).Inc()
}

// RecordLoadError counts a failure by error class.
func (m *Metrics) RecordLoadError(class string) {
	if !m.enabled() {
		return
	}
	m.loadErrors.WithLabelValues(class).Inc()
}

// RecordMerge counts one merge of two configurations.
func (m *Metrics) RecordMerge() {
	if !m.enabled() {
		return
	}
	m.merges.Inc()
}

// Resolution Metrics

// ObserveFinalize records how long a finalization took.
func (m *Metrics) ObserveFinalize(d time.Duration) {
	if !m.enabled() {
		return
	}
	m.finalizeDuration.Observe(d.Seconds())
}

// RecordResolution counts a resolved (or failed) machine configuration.
func (m *Metrics) RecordResolution(provider, status string) {
	if !m.enabled() {
		return
	}
	m.resolutions.WithLabelValues(provider, status).Inc()
}

// Validation Metrics

// RecordFindings adds count findings for a report category.
func (m *Metrics) RecordFindings(category string, count int) {
	if !m.enabled() || count == 0 {
		return
	}
	m.findings.WithLabelValues(category).Add(float64(count))
}

// RecordWatchRevalidation counts a revalidation caused by a file change.
func (m *Metrics) RecordWatchRevalidation() {
	if !m.enabled() {
		return
	}
	m.watchReruns.Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Gatherer returns the registry metrics are recorded in, or nil when
// metrics are disabled.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if !m.enabled() {
		return nil
	}
	return m.registry
}

// WriteToTextfile writes the current metrics in the text exposition format,
// for pickup by a node exporter textfile collector.
func (m *Metrics) WriteToTextfile(path string) error {
	if !m.enabled() {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics. It returns a
// function that stops the server.
func (m *Metrics) StartMetricsServer() (func(context.Context) error, error) {
	if !m.enabled() || m.config.ListenAddress == "" {
		return func(context.Context) error { return nil }, nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("address", m.config.ListenAddress).Msg("metrics server error")
		}
	}()

	return server.Shutdown, nil
}
