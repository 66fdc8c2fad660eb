// Package metrics exposes Prometheus metrics of the resurrection service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service metrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Pipeline
	RunsActive       prometheus.Gauge
	RunsTotal        *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	EventsEmitted    *prometheus.CounterVec
	ArtifactsBlocked prometheus.Counter

	// Deployment
	CommitsTotal *prometheus.CounterVec

	// Stream decoding
	MalformedRecords prometheus.Counter

	// WebSocket
	WSConnectionsActive prometheus.Gauge
}

// New creates the metrics under namespace.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.005, 0.05, 0.25, 1, 5, 30, 60, 300},
			},
			[]string{"method", "path"},
		),
		RunsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_active",
				Help:      "Runs currently in progress",
			},
		),
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Finished runs by final stage",
			},
			[]string{"stage"},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each pipeline stage",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"stage"},
		),
		EventsEmitted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_emitted_total",
				Help:      "Pipeline events emitted by type",
			},
			[]string{"type"},
		),
		ArtifactsBlocked: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifacts_blocked_total",
				Help:      "Generated artifacts dropped by the artifact policy",
			},
		),
		CommitsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commits_total",
				Help:      "Artifact commits by status",
			},
			[]string{"status"},
		),
		MalformedRecords: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_malformed_records_total",
				Help:      "Stream records skipped by the decoder",
			},
		),
		WSConnectionsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_connections_active",
				Help:      "Active WebSocket connections",
			},
		),
	}
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler of the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordStage records time spent in a stage.
func (m *Metrics) RecordStage(stage string, duration time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordRunFinished records the final stage of a run.
func (m *Metrics) RecordRunFinished(stage string) {
	m.RunsTotal.WithLabelValues(stage).Inc()
}

// RecordEvent counts an emitted event.
func (m *Metrics) RecordEvent(eventType string) {
	m.EventsEmitted.WithLabelValues(eventType).Inc()
}

// RecordCommit counts a commit outcome.
func (m *Metrics) RecordCommit(status string) {
	m.CommitsTotal.WithLabelValues(status).Inc()
}
