package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Relay metrics
	EventsIngested  *prometheus.CounterVec
	EventsMalformed prometheus.Counter
	LogEntries      prometheus.Gauge
	LogClears       prometheus.Counter

	// Viewer metrics
	ViewersActive prometheus.Gauge
	ViewerDrops   prometheus.Counter
	SourcesActive prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spandeck_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spandeck_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		EventsIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spandeck_events_ingested_total",
				Help: "Total number of trace events accepted by the relay",
			},
			[]string{"kind"},
		),
		EventsMalformed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "spandeck_events_malformed_total",
				Help: "Total number of frames discarded as undecodable",
			},
		),
		LogEntries: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "spandeck_log_entries",
				Help: "Number of events in the replay log",
			},
		),
		LogClears: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "spandeck_log_clears_total",
				Help: "Total number of clear-all operations",
			},
		),

		ViewersActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "spandeck_viewers_active",
				Help: "Number of connected viewer websockets",
			},
		),
		ViewerDrops: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "spandeck_viewer_drops_total",
				Help: "Total number of viewers dropped for falling behind",
			},
		),
		SourcesActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "spandeck_sources_active",
				Help: "Number of connected source websockets",
			},
		),

		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "spandeck_uptime_seconds",
				Help: "Relay uptime in seconds",
			},
		),
	}

	// Start uptime updater
	go m.updateUptime()

	return m
}

// updateUptime continuously updates the uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
