package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mescon/repeatd/internal/domain"
	"github.com/mescon/repeatd/internal/eventbus"
	"github.com/mescon/repeatd/internal/logger"
)

// MetricsService exposes Prometheus metrics for repeatd
type MetricsService struct {
	eventBus eventbus.Publisher
	gatherer prometheus.Gatherer

	// Counters
	jobsAdded    prometheus.Counter
	ticksTotal   *prometheus.CounterVec
	tickFailures *prometheus.CounterVec
	abortsTotal  prometheus.Counter

	// Gauges
	activeJobs prometheus.Gauge

	// Histograms
	tickInterval prometheus.Histogram
}

// NewMetricsService creates and registers Prometheus metrics on reg.
// A nil reg uses the default Prometheus registry.
func NewMetricsService(eb eventbus.Publisher, reg *prometheus.Registry) *MetricsService {
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg != nil {
		registerer = reg
		gatherer = reg
	}

	m := &MetricsService{
		eventBus: eb,
		gatherer: gatherer,

		jobsAdded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "repeatd_jobs_added_total",
				Help: "Total number of jobs scheduled",
			},
		),

		ticksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repeatd_ticks_total",
				Help: "Total number of ticks started by job",
			},
			[]string{"job"},
		),

		tickFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repeatd_tick_failures_total",
				Help: "Total number of failed ticks by job",
			},
			[]string{"job"},
		),

		abortsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "repeatd_aborts_total",
				Help: "Total number of jobs that finished aborting",
			},
		),

		activeJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "repeatd_active_jobs",
				Help: "Number of jobs currently scheduled",
			},
		),

		tickInterval: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "repeatd_tick_interval_seconds",
				Help:    "Observed time between consecutive tick starts",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~30min
			},
		),
	}

	registerer.MustRegister(
		m.jobsAdded,
		m.ticksTotal,
		m.tickFailures,
		m.abortsTotal,
		m.activeJobs,
		m.tickInterval,
	)

	return m
}

// Start subscribes to events and updates metrics
func (m *MetricsService) Start() {
	m.eventBus.Subscribe(domain.JobAdded, m.handleJobAdded)
	m.eventBus.Subscribe(domain.TickStarted, m.handleTickStarted)
	m.eventBus.Subscribe(domain.TickFailed, m.handleTickFailed)
	m.eventBus.Subscribe(domain.JobAborted, m.handleJobAborted)

	logger.Infof("Metrics service started")
}

// Handler returns the Prometheus HTTP handler for /metrics endpoint
func (m *MetricsService) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Event handlers

func (m *MetricsService) handleJobAdded(event domain.Event) {
	m.jobsAdded.Inc()
	m.activeJobs.Inc()
}

func (m *MetricsService) handleTickStarted(event domain.Event) {
	m.ticksTotal.WithLabelValues(jobLabel(event)).Inc()

	data, ok := event.ParseTickEventData()
	if ok && data.DeltaMs != nil {
		m.tickInterval.Observe(*data.DeltaMs / 1000)
	}
}

func (m *MetricsService) handleTickFailed(event domain.Event) {
	m.tickFailures.WithLabelValues(jobLabel(event)).Inc()
}

func (m *MetricsService) handleJobAborted(event domain.Event) {
	m.abortsTotal.Inc()
	m.activeJobs.Dec()
}

func jobLabel(event domain.Event) string {
	if event.JobName != "" {
		return event.JobName
	}
	if event.JobID != "" {
		return event.JobID
	}
	return "unknown"
}
