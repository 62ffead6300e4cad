// Package monitoring exposes the relay's operational metrics in the
// Prometheus text format. The monitor owns a private registry, so tests can
// run many instances in one process without collisions.
package monitoring

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "relay"

// Request outcomes reported on requests_total. Degraded requests that still
// complete count as "completed"; the degrade shows up on
// admission_decisions_total instead.
const (
	OutcomeExactHit     = "exact_hit"
	OutcomeSemanticHit  = "semantic_hit"
	OutcomeCompleted    = "completed"
	OutcomeRejected     = "rejected"
	OutcomeQueueFull    = "queue_full"
	OutcomeBackendError = "backend_error"
)

// PrometheusMonitor implements monitoring using Prometheus.
type PrometheusMonitor struct {
	registry *prometheus.Registry
	logger   *zap.SugaredLogger

	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	cacheHitsTotal     *prometheus.CounterVec
	cacheMissesTotal   *prometheus.CounterVec
	admissionDecisions *prometheus.CounterVec
	queueDepth         *prometheus.GaugeVec
	backendLatency     *prometheus.HistogramVec
}

// NewPrometheusMonitor creates a monitor with all relay metrics registered.
func NewPrometheusMonitor(logger *zap.SugaredLogger) (*PrometheusMonitor, error) {
	registry := prometheus.NewRegistry()

	monitor := &PrometheusMonitor{
		registry: registry,
		logger:   logger,
	}

	if err := monitor.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %v", err)
	}

	return monitor, nil
}

func (p *PrometheusMonitor) initializeMetrics() error {
	p.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of chat completion requests",
		},
		[]string{"tenant", "status", "outcome"},
	)

	p.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tenant"},
	)

	p.cacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"type"},
	)

	p.cacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"type"},
	)

	p.admissionDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_decisions_total",
			Help:      "Admission controller verdicts",
		},
		[]string{"decision"},
	)

	p.queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs currently queued per scheduler lane",
		},
		[]string{"lane"},
	)

	p.backendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_latency_seconds",
			Help:      "Generation backend latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"backend"},
	)

	collectors := []prometheus.Collector{
		p.requestsTotal,
		p.requestDuration,
		p.cacheHitsTotal,
		p.cacheMissesTotal,
		p.admissionDecisions,
		p.queueDepth,
		p.backendLatency,
	}

	for _, collector := range collectors {
		if err := p.registry.Register(collector); err != nil {
			return fmt.Errorf("failed to register metric: %v", err)
		}
	}

	return nil
}

// RecordRequest counts one finished request and observes its duration.
func (p *PrometheusMonitor) RecordRequest(tenantID string, statusCode int, outcome string, duration time.Duration) {
	p.requestsTotal.WithLabelValues(tenantID, strconv.Itoa(statusCode), outcome).Inc()
	p.requestDuration.WithLabelValues(tenantID).Observe(duration.Seconds())
}

// RecordCacheProbe counts one probe of the given tier ("exact" or "semantic").
func (p *PrometheusMonitor) RecordCacheProbe(tier string, hit bool) {
	if hit {
		p.cacheHitsTotal.WithLabelValues(tier).Inc()
		return
	}
	p.cacheMissesTotal.WithLabelValues(tier).Inc()
}

// RecordAdmission counts one admission verdict by its reason string.
func (p *PrometheusMonitor) RecordAdmission(decision string) {
	p.admissionDecisions.WithLabelValues(decision).Inc()
}

// SetQueueDepth publishes the current depth of a scheduler lane.
func (p *PrometheusMonitor) SetQueueDepth(lane string, depth int) {
	p.queueDepth.WithLabelValues(lane).Set(float64(depth))
}

// RecordBackendLatency observes one backend generation's wall time.
func (p *PrometheusMonitor) RecordBackendLatency(backendName string, latencyMs int64) {
	p.backendLatency.WithLabelValues(backendName).Observe(float64(latencyMs) / 1000.0)
}

// Handler serves the registry in the Prometheus text exposition format.
func (p *PrometheusMonitor) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(p.logger.Desugar()),
	})
}
