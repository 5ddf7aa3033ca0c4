package middleware

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vango-dev/hypercube/pkg/hypercube"
)

// MetricsConfig configures the Prometheus metrics middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "hypercube").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for dispatch duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics middleware.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the duration histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "hypercube",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// metrics holds the dispatch metrics registered on one registry.
type metrics struct {
	eventsTotal   *prometheus.CounterVec
	eventDuration *prometheus.HistogramVec
	frameBytes    *prometheus.HistogramVec
}

// Metrics are created once per registry; registering the same collectors
// twice would panic.
var (
	metricsByRegistry   = make(map[prometheus.Registerer]*metrics)
	metricsByRegistryMu sync.Mutex
)

func metricsFor(config MetricsConfig) *metrics {
	metricsByRegistryMu.Lock()
	defer metricsByRegistryMu.Unlock()

	if m, ok := metricsByRegistry[config.Registry]; ok {
		return m
	}
	m := initMetrics(config)
	metricsByRegistry[config.Registry] = m
	return m
}

func initMetrics(config MetricsConfig) *metrics {
	factory := promauto.With(config.Registry)

	return &metrics{
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "events_total",
			Help:        "Total number of inbound text frames routed, by outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"path", "outcome"}),

		eventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "event_duration_seconds",
			Help:        "Time spent routing a frame, including the handler",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"path"}),

		frameBytes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frame_bytes",
			Help:        "Size of inbound text frames in bytes",
			ConstLabels: config.ConstLabels,
			Buckets:     prometheus.ExponentialBuckets(32, 4, 8), // 32B to 512KB
		}, []string{"path"}),
	}
}

// Prometheus creates middleware that records dispatch metrics.
//
// Metrics collected:
//   - hypercube_events_total: Counter of routed frames by path and outcome
//   - hypercube_event_duration_seconds: Histogram of routing duration
//   - hypercube_frame_bytes: Histogram of inbound frame sizes
//
// Outcomes are the hypercube.Outcome values. Event names are not used as
// labels since clients choose them.
//
// Example:
//
//	cfg := hypercube.DefaultConfig()
//	cfg.Middleware = append(cfg.Middleware,
//	    middleware.Prometheus(middleware.WithNamespace("chat")),
//	)
//
//	// Expose metrics endpoint
//	http.Handle("/metrics", promhttp.Handler())
func Prometheus(opts ...MetricsOption) hypercube.Middleware {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	m := metricsFor(config)

	return func(d *hypercube.Dispatch, next func()) {
		start := time.Now()
		next()

		m.eventDuration.WithLabelValues(d.Path).Observe(time.Since(start).Seconds())
		m.frameBytes.WithLabelValues(d.Path).Observe(float64(d.Size))
		m.eventsTotal.WithLabelValues(d.Path, string(d.Outcome)).Inc()
	}
}

// SessionCollector exports the registry statistics of one or more scopes.
//
//	reg.MustRegister(middleware.NewSessionCollector("hypercube", scope))
type SessionCollector struct {
	scopes []*hypercube.Scope

	active *prometheus.Desc
	peak   *prometheus.Desc
	opened *prometheus.Desc
	closed *prometheus.Desc
}

// NewSessionCollector creates a collector for the given scopes.
func NewSessionCollector(namespace string, scopes ...*hypercube.Scope) *SessionCollector {
	labels := []string{"path"}
	return &SessionCollector{
		scopes: scopes,
		active: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "active_sessions"),
			"Number of open websocket sessions", labels, nil),
		peak: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "peak_sessions"),
			"Highest number of simultaneously open sessions", labels, nil),
		opened: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "sessions_opened_total"),
			"Total number of sessions opened", labels, nil),
		closed: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "sessions_closed_total"),
			"Total number of sessions closed", labels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *SessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.active
	ch <- c.peak
	ch <- c.opened
	ch <- c.closed
}

// Collect implements prometheus.Collector.
func (c *SessionCollector) Collect(ch chan<- prometheus.Metric) {
	for _, sc := range c.scopes {
		stats := sc.Sessions().Stats()
		path := sc.Path()
		ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(stats.Active), path)
		ch <- prometheus.MustNewConstMetric(c.peak, prometheus.GaugeValue, float64(stats.Peak), path)
		ch <- prometheus.MustNewConstMetric(c.opened, prometheus.CounterValue, float64(stats.TotalOpened), path)
		ch <- prometheus.MustNewConstMetric(c.closed, prometheus.CounterValue, float64(stats.TotalClosed), path)
	}
}
