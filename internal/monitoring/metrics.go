package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the daemon.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Poller metrics
	PollCycles        *prometheus.CounterVec
	PollFailures      prometheus.Counter
	PollInterval      prometheus.Gauge
	UnreadCount       prometheus.Gauge
	NotificationsSent prometheus.Counter

	// Linker metrics
	MarkersCreated prometheus.Counter
	ScansTotal     prometheus.Counter
	NodesSkipped   *prometheus.CounterVec

	// Remote API metrics
	APICalls    *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec

	// Broker metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicelink_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voicelink_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		PollCycles: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicelink_poll_cycles_total",
				Help: "Unread poll cycles by outcome",
			},
			[]string{"outcome"},
		),
		PollFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "voicelink_poll_failures_total",
				Help: "Consecutive-failure increments across all poll cycles",
			},
		),
		PollInterval: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "voicelink_poll_interval_seconds",
				Help: "Current unread poll interval",
			},
		),
		UnreadCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "voicelink_unread_count",
				Help: "Last known unread inbox count (-1 logged out, -2 unknown)",
			},
		),
		NotificationsSent: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "voicelink_notifications_total",
				Help: "Desktop notifications raised",
			},
		),

		MarkersCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "voicelink_markers_created_total",
				Help: "Phone-number markers created across all scans",
			},
		),
		ScansTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "voicelink_scans_total",
				Help: "Document scan passes",
			},
		),
		NodesSkipped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicelink_nodes_skipped_total",
				Help: "Text nodes skipped during scan, by reason",
			},
			[]string{"reason"},
		),

		APICalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicelink_api_calls_total",
				Help: "Remote voice API calls",
			},
			[]string{"endpoint", "status"},
		),
		APIDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voicelink_api_call_duration_seconds",
				Help:    "Remote voice API call duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"endpoint"},
		),

		WSConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "voicelink_ws_connections",
				Help: "Active broker WebSocket connections",
			},
		),
		WSMessages: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicelink_ws_messages_total",
				Help: "Broker messages by action",
			},
			[]string{"action"},
		),

		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "voicelink_uptime_seconds",
				Help: "Daemon uptime in seconds",
			},
		),
	}

	go m.updateUptime()
	return m
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordAPICall records a remote API call.
func (m *Metrics) RecordAPICall(endpoint, status string, duration time.Duration) {
	m.APICalls.WithLabelValues(endpoint, status).Inc()
	m.APIDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordPollCycle records one completed poll cycle.
func (m *Metrics) RecordPollCycle(outcome string, interval time.Duration) {
	m.PollCycles.WithLabelValues(outcome).Inc()
	m.PollInterval.Set(interval.Seconds())
}

func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}
