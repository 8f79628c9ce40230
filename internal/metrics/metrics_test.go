package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mescon/repeatd/internal/domain"
	"github.com/mescon/repeatd/internal/testutil"
)

// =============================================================================
// Test helpers
// =============================================================================

// createTestMetrics creates a started MetricsService on a private registry
// fed by a synchronous mock bus.
func createTestMetrics(t *testing.T) (*MetricsService, *testutil.MockEventBus) {
	t.Helper()
	bus := testutil.NewMockEventBus()
	m := NewMetricsService(bus, prometheus.NewRegistry())
	m.Start()
	return m, bus
}

func publishTick(t *testing.T, bus *testutil.MockEventBus, job string, count int, delta time.Duration) {
	t.Helper()
	require.NoError(t, bus.Publish(domain.Event{
		JobID:     job + "-id",
		JobName:   job,
		EventType: domain.TickStarted,
		EventData: domain.NewTickEventData(count, delta, count > 1, nil),
	}))
}

// =============================================================================
// Event handler tests
// =============================================================================

func TestMetrics_ActiveJobs(t *testing.T) {
	m, bus := createTestMetrics(t)

	_ = bus.Publish(domain.Event{JobID: "a", EventType: domain.JobAdded})
	_ = bus.Publish(domain.Event{JobID: "b", EventType: domain.JobAdded})
	assert.Equal(t, float64(2), promtest.ToFloat64(m.activeJobs))
	assert.Equal(t, float64(2), promtest.ToFloat64(m.jobsAdded))

	_ = bus.Publish(domain.Event{JobID: "a", EventType: domain.JobAborted})
	assert.Equal(t, float64(1), promtest.ToFloat64(m.activeJobs))
	assert.Equal(t, float64(1), promtest.ToFloat64(m.abortsTotal))
}

func TestMetrics_TicksByJob(t *testing.T) {
	m, bus := createTestMetrics(t)

	publishTick(t, bus, "api", 1, 0)
	publishTick(t, bus, "api", 2, time.Second)
	publishTick(t, bus, "db", 1, 0)

	assert.Equal(t, float64(2), promtest.ToFloat64(m.ticksTotal.WithLabelValues("api")))
	assert.Equal(t, float64(1), promtest.ToFloat64(m.ticksTotal.WithLabelValues("db")))
}

func TestMetrics_TickIntervalSkipsFirstTick(t *testing.T) {
	m, bus := createTestMetrics(t)

	publishTick(t, bus, "api", 1, 0)
	assert.Equal(t, 1, promtest.CollectAndCount(m.tickInterval))

	publishTick(t, bus, "api", 2, 1500*time.Millisecond)
	publishTick(t, bus, "api", 3, 500*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	assert.Contains(t, body, "repeatd_tick_interval_seconds_count 2")
	assert.Contains(t, body, "repeatd_tick_interval_seconds_sum 2")
	assert.Contains(t, body, `repeatd_tick_interval_seconds_bucket{le="0.8"} 1`)
}

func TestMetrics_TickFailures(t *testing.T) {
	m, bus := createTestMetrics(t)

	_ = bus.Publish(domain.Event{JobName: "api", EventType: domain.TickFailed})
	_ = bus.Publish(domain.Event{JobID: "only-id", EventType: domain.TickFailed})
	_ = bus.Publish(domain.Event{EventType: domain.TickFailed})

	assert.Equal(t, float64(1), promtest.ToFloat64(m.tickFailures.WithLabelValues("api")))
	assert.Equal(t, float64(1), promtest.ToFloat64(m.tickFailures.WithLabelValues("only-id")))
	assert.Equal(t, float64(1), promtest.ToFloat64(m.tickFailures.WithLabelValues("unknown")))
}

func TestMetrics_Handler(t *testing.T) {
	m, bus := createTestMetrics(t)
	publishTick(t, bus, "api", 1, 0)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `repeatd_ticks_total{job="api"} 1`)
	assert.Contains(t, body, "repeatd_active_jobs 0")
}

func TestNewMetricsService_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetricsService(testutil.NewMockEventBus(), reg)
	assert.Panics(t, func() {
		NewMetricsService(testutil.NewMockEventBus(), reg)
	})
}
