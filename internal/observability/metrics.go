package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects application metrics.
type Metrics interface {
	// RecordStage records one stage attempt and its outcome (success, partial_success, failure, skipped)
	RecordStage(stage, outcome string, duration time.Duration)
	// RecordUpstreamFailure records a classified upstream failure
	RecordUpstreamFailure(stage, kind string)
	// RecordGeneration records a completed dispatch
	RecordGeneration(stage string, images, realImages int)
	// RecordRequest records an HTTP request
	RecordRequest(method, route string, status int, duration time.Duration)
}

const (
	namespace = "image_gateway"
)

// PrometheusMetrics implements Metrics on a Prometheus registry
type PrometheusMetrics struct {
	stageTotal       *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	upstreamFailures *prometheus.CounterVec
	generations      *prometheus.CounterVec
	imagesTotal      *prometheus.CounterVec
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

// NewPrometheusMetrics registers the gateway collectors on reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		stageTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatcher",
				Name:      "stage_attempts_total",
				Help:      "Total fallback stage attempts by outcome",
			},
			[]string{"stage", "outcome"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dispatcher",
				Name:      "stage_duration_seconds",
				Help:      "Fallback stage duration in seconds",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"stage"},
		),
		upstreamFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "failures_total",
				Help:      "Total classified upstream failures",
			},
			[]string{"stage", "kind"},
		),
		generations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatcher",
				Name:      "generations_total",
				Help:      "Total dispatched generations by serving stage",
			},
			[]string{"stage"},
		),
		imagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatcher",
				Name:      "images_total",
				Help:      "Total image references returned, real or placeholder",
			},
			[]string{"type"},
		),
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 30, 120, 600},
			},
			[]string{"method", "route"},
		),
	}
}

// RecordStage records one stage attempt
func (m *PrometheusMetrics) RecordStage(stage, outcome string, duration time.Duration) {
	m.stageTotal.WithLabelValues(stage, outcome).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordUpstreamFailure records a classified upstream failure
func (m *PrometheusMetrics) RecordUpstreamFailure(stage, kind string) {
	m.upstreamFailures.WithLabelValues(stage, kind).Inc()
}

// RecordGeneration records a completed dispatch
func (m *PrometheusMetrics) RecordGeneration(stage string, images, realImages int) {
	m.generations.WithLabelValues(stage).Inc()
	m.imagesTotal.WithLabelValues("real").Add(float64(realImages))
	m.imagesTotal.WithLabelValues("placeholder").Add(float64(images - realImages))
}

// RecordRequest records an HTTP request
func (m *PrometheusMetrics) RecordRequest(method, route string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// NopMetrics discards everything
type NopMetrics struct{}

func (NopMetrics) RecordStage(string, string, time.Duration)        {}
func (NopMetrics) RecordUpstreamFailure(string, string)             {}
func (NopMetrics) RecordGeneration(string, int, int)                {}
func (NopMetrics) RecordRequest(string, string, int, time.Duration) {}

var (
	_ Metrics = (*PrometheusMetrics)(nil)
	_ Metrics = NopMetrics{}
)
