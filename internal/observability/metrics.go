package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog/log"
)

// MetricsConfig holds configuration for build metrics export
type MetricsConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	PushgatewayURL string `mapstructure:"pushgateway_url"` // Push to a Prometheus Pushgateway after each run
	Textfile       string `mapstructure:"textfile"`        // Write a node_exporter textfile after each run
	Job            string `mapstructure:"job"`             // Pushgateway job label
}

// Metrics holds the Prometheus metrics of one fluxpack invocation
type Metrics struct {
	registry *prometheus.Registry

	// Build metrics
	buildsTotal         *prometheus.CounterVec
	buildDuration       prometheus.Histogram
	targetBuildDuration *prometheus.HistogramVec
	targetOutputBytes   *prometheus.GaugeVec

	// Publish metrics
	uploadsTotal  *prometheus.CounterVec
	uploadedBytes *prometheus.CounterVec

	// Dev server metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		buildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxpack_builds_total",
				Help: "Total number of bundle builds",
			},
			[]string{"status"},
		),
		buildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fluxpack_build_duration_seconds",
				Help:    "Wall time of a full build including compression",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		targetBuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluxpack_target_build_duration_seconds",
				Help:    "Time spent bundling a single target",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"target", "role"},
		),
		targetOutputBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fluxpack_target_output_bytes",
				Help: "Size of a built target by content encoding",
			},
			[]string{"target", "encoding"},
		),

		uploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxpack_publish_uploads_total",
				Help: "Total number of artifact uploads",
			},
			[]string{"provider", "status"},
		),
		uploadedBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxpack_publish_bytes_total",
				Help: "Total bytes uploaded",
			},
			[]string{"provider"},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxpack_http_requests_total",
				Help: "Total number of dev server requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluxpack_http_request_duration_seconds",
				Help:    "Dev server request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}

	m.registry.MustRegister(
		m.buildsTotal,
		m.buildDuration,
		m.targetBuildDuration,
		m.targetOutputBytes,
		m.uploadsTotal,
		m.uploadedBytes,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)

	return m
}

// Registry returns the registry holding all metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordBuild records the outcome of a full build
func (m *Metrics) RecordBuild(duration time.Duration, err error) {
	m.buildsTotal.WithLabelValues(resultStatus(err)).Inc()
	m.buildDuration.Observe(duration.Seconds())
}

// RecordTarget records the bundling time of one target
func (m *Metrics) RecordTarget(target, role string, duration time.Duration) {
	m.targetBuildDuration.WithLabelValues(target, role).Observe(duration.Seconds())
}

// RecordOutput records the size of a target for an encoding ("identity", "gzip", "br")
func (m *Metrics) RecordOutput(target, encoding string, bytes int) {
	m.targetOutputBytes.WithLabelValues(target, encoding).Set(float64(bytes))
}

// RecordUpload records a publish upload
func (m *Metrics) RecordUpload(provider string, bytes int64, err error) {
	m.uploadsTotal.WithLabelValues(provider, resultStatus(err)).Inc()
	if err == nil {
		m.uploadedBytes.WithLabelValues(provider).Add(float64(bytes))
	}
}

// MetricsMiddleware returns a Fiber middleware that collects HTTP metrics
func (m *Metrics) MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		// Label values outlive the request, so they must not alias fiber's buffers
		path := normalizePath(utils.CopyString(c.Path()))
		method := utils.CopyString(c.Method())

		err := c.Next()

		status := statusClass(c.Response().StatusCode())
		m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())

		return err
	}
}

// Handler returns a Fiber handler that exposes the registry
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Flush exports the registry to the configured Pushgateway and textfile.
// Nothing happens when metrics are disabled.
func (m *Metrics) Flush(ctx context.Context, cfg MetricsConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.Textfile != "" {
		if err := prometheus.WriteToTextfile(cfg.Textfile, m.registry); err != nil {
			return fmt.Errorf("failed to write metrics textfile: %w", err)
		}
		log.Debug().Str("file", cfg.Textfile).Msg("Metrics textfile written")
	}

	if cfg.PushgatewayURL != "" {
		job := cfg.Job
		if job == "" {
			job = "fluxpack"
		}
		if err := push.New(cfg.PushgatewayURL, job).Gatherer(m.registry).PushContext(ctx); err != nil {
			return fmt.Errorf("failed to push metrics: %w", err)
		}
		log.Debug().Str("url", cfg.PushgatewayURL).Msg("Metrics pushed")
	}

	return nil
}

func resultStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// normalizePath keeps label cardinality bounded
func normalizePath(path string) string {
	if len(path) > 50 {
		return "long_path"
	}
	return path
}

// statusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx)
func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
