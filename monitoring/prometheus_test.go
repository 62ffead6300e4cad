package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestMonitor(t *testing.T) *PrometheusMonitor {
	t.Helper()
	monitor, err := NewPrometheusMonitor(zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	return monitor
}

// scrape renders the monitor's registry through its HTTP handler.
func scrape(t *testing.T, monitor *PrometheusMonitor) string {
	t.Helper()
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	monitor.Handler().ServeHTTP(recorder, request)
	require.Equal(t, http.StatusOK, recorder.Code)
	return recorder.Body.String()
}

func TestNewPrometheusMonitor(t *testing.T) {
	monitor := newTestMonitor(t)

	assert.NotNil(t, monitor.registry)
	assert.NotNil(t, monitor.requestsTotal)
	assert.NotNil(t, monitor.requestDuration)
	assert.NotNil(t, monitor.cacheHitsTotal)
	assert.NotNil(t, monitor.cacheMissesTotal)
	assert.NotNil(t, monitor.admissionDecisions)
	assert.NotNil(t, monitor.queueDepth)
	assert.NotNil(t, monitor.backendLatency)
}

func TestMonitorsAreIsolated(t *testing.T) {
	// Each monitor owns its registry, so a second one registers cleanly.
	first := newTestMonitor(t)
	second := newTestMonitor(t)

	first.RecordAdmission("within_slo")
	assert.NotContains(t, scrape(t, second), "within_slo")
}

func TestRecordRequest(t *testing.T) {
	monitor := newTestMonitor(t)

	monitor.RecordRequest("default", 200, OutcomeCompleted, 150*time.Millisecond)
	monitor.RecordRequest("default", 200, OutcomeExactHit, time.Millisecond)
	monitor.RecordRequest("tenant-b", 429, OutcomeRejected, time.Millisecond)

	body := scrape(t, monitor)
	assert.Contains(t, body, `relay_requests_total{outcome="completed",status="200",tenant="default"} 1`)
	assert.Contains(t, body, `relay_requests_total{outcome="exact_hit",status="200",tenant="default"} 1`)
	assert.Contains(t, body, `relay_requests_total{outcome="rejected",status="429",tenant="tenant-b"} 1`)
	assert.Contains(t, body, `relay_request_duration_seconds_count{tenant="default"} 2`)
}

func TestRecordCacheProbe(t *testing.T) {
	monitor := newTestMonitor(t)

	monitor.RecordCacheProbe("exact", true)
	monitor.RecordCacheProbe("exact", false)
	monitor.RecordCacheProbe("semantic", false)

	body := scrape(t, monitor)
	assert.Contains(t, body, `relay_cache_hits_total{type="exact"} 1`)
	assert.Contains(t, body, `relay_cache_misses_total{type="exact"} 1`)
	assert.Contains(t, body, `relay_cache_misses_total{type="semantic"} 1`)
	assert.NotContains(t, body, `relay_cache_hits_total{type="semantic"}`)
}

func TestRecordAdmission(t *testing.T) {
	monitor := newTestMonitor(t)

	monitor.RecordAdmission("degrade_to_meet_slo")
	monitor.RecordAdmission("degrade_to_meet_slo")
	monitor.RecordAdmission("reject_predicted_slo_miss")

	body := scrape(t, monitor)
	assert.Contains(t, body, `relay_admission_decisions_total{decision="degrade_to_meet_slo"} 2`)
	assert.Contains(t, body, `relay_admission_decisions_total{decision="reject_predicted_slo_miss"} 1`)
}

func TestSetQueueDepth(t *testing.T) {
	monitor := newTestMonitor(t)

	monitor.SetQueueDepth("short", 3)
	monitor.SetQueueDepth("long", 0)
	monitor.SetQueueDepth("short", 1)

	body := scrape(t, monitor)
	assert.Contains(t, body, `relay_queue_depth{lane="short"} 1`)
	assert.Contains(t, body, `relay_queue_depth{lane="long"} 0`)
}

func TestRecordBackendLatency(t *testing.T) {
	monitor := newTestMonitor(t)

	monitor.RecordBackendLatency("ollama", 1500)
	monitor.RecordBackendLatency("ollama", 250)

	body := scrape(t, monitor)
	assert.Contains(t, body, `relay_backend_latency_seconds_count{backend="ollama"} 2`)
	assert.Contains(t, body, `relay_backend_latency_seconds_sum{backend="ollama"} 1.75`)
}
