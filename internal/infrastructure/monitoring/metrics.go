package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Status server metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Worker host metrics
	HostsActive        prometheus.Gauge
	HostsSpawned       prometheus.Counter
	HostsEnded         *prometheus.CounterVec
	Messages           *prometheus.CounterVec
	ProtocolViolations *prometheus.CounterVec
	ContextFaults      prometheus.Counter

	// Poll metrics
	PollRequests  *prometheus.CounterVec
	PollDuration  *prometheus.HistogramVec
	PollRefreshes prometheus.Counter

	// Socket metrics
	SocketFrames      *prometheus.CounterVec
	SocketSendRetries prometheus.Counter

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current metric values for the JSON status API
type Snapshot struct {
	HostsActive   int64   `json:"hosts_active"`
	HostsSpawned  int64   `json:"hosts_spawned"`
	ForcedEnds    int64   `json:"forced_ends"`
	PollRequests  int64   `json:"poll_requests"`
	PollFailures  int64   `json:"poll_failures"`
	PollRefreshes int64   `json:"poll_refreshes"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector backed by its own registry
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.NewRegistry())
}

// NewMetricsWithRegistry creates a metrics collector registered on reg
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booster_status_requests_total",
				Help: "Total number of status server requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "booster_status_request_duration_seconds",
				Help:    "Status server request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),

		HostsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "booster_hosts_active",
				Help: "Number of live worker hosts",
			},
		),
		HostsSpawned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "booster_hosts_spawned_total",
				Help: "Total number of worker hosts spawned",
			},
		),
		HostsEnded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booster_hosts_ended_total",
				Help: "Total number of worker hosts ended, by shutdown mode",
			},
			[]string{"mode"},
		),
		Messages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booster_messages_total",
				Help: "Total number of messages crossing the host boundary",
			},
			[]string{"direction", "label"},
		),
		ProtocolViolations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booster_protocol_violations_total",
				Help: "Total number of dropped out-of-protocol messages",
			},
			[]string{"side"},
		),
		ContextFaults: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "booster_context_faults_total",
				Help: "Total number of isolated context failures",
			},
		),

		PollRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booster_poll_requests_total",
				Help: "Total number of poll requests, by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		PollDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "booster_poll_request_duration_seconds",
				Help:    "Poll request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method"},
		),
		PollRefreshes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "booster_poll_refreshes_total",
				Help: "Total number of poll context refreshes",
			},
		),

		SocketFrames: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booster_socket_frames_total",
				Help: "Total number of socket frames",
			},
			[]string{"direction"},
		),
		SocketSendRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "booster_socket_send_retries_total",
				Help: "Total number of sends deferred until the socket opened",
			},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "booster_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry the collectors are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus exposition handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records a status server request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// HostSpawned records a new worker host
func (m *Metrics) HostSpawned() {
	if m == nil {
		return
	}
	m.HostsSpawned.Inc()
	m.HostsActive.Inc()

	m.mu.Lock()
	m.snapshot.HostsSpawned++
	m.snapshot.HostsActive++
	m.mu.Unlock()
}

// HostEnded records a worker host shutdown; mode is graceful, forced or failed
func (m *Metrics) HostEnded(mode string) {
	if m == nil {
		return
	}
	m.HostsEnded.WithLabelValues(mode).Inc()
	m.HostsActive.Dec()

	m.mu.Lock()
	m.snapshot.HostsActive--
	if mode == "forced" {
		m.snapshot.ForcedEnds++
	}
	m.mu.Unlock()
}

// RecordMessage records a message crossing the boundary; direction is down or up
func (m *Metrics) RecordMessage(direction, label string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(direction, label).Inc()
}

// RecordProtocolViolation records a dropped message
func (m *Metrics) RecordProtocolViolation(side string) {
	if m == nil {
		return
	}
	m.ProtocolViolations.WithLabelValues(side).Inc()
}

// RecordContextFault records an isolated context failure
func (m *Metrics) RecordContextFault() {
	if m == nil {
		return
	}
	m.ContextFaults.Inc()
}

// RecordPollRequest records a completed poll request
func (m *Metrics) RecordPollRequest(method, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.PollRequests.WithLabelValues(method, outcome).Inc()
	m.PollDuration.WithLabelValues(method).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.PollRequests++
	if outcome != "success" {
		m.snapshot.PollFailures++
	}
	m.mu.Unlock()
}

// IncPollRefreshes increments the refresh counter
func (m *Metrics) IncPollRefreshes() {
	if m == nil {
		return
	}
	m.PollRefreshes.Inc()

	m.mu.Lock()
	m.snapshot.PollRefreshes++
	m.mu.Unlock()
}

// RecordSocketFrame records a socket frame; direction is in or out
func (m *Metrics) RecordSocketFrame(direction string) {
	if m == nil {
		return
	}
	m.SocketFrames.WithLabelValues(direction).Inc()
}

// IncSocketSendRetries increments the deferred send counter
func (m *Metrics) IncSocketSendRetries() {
	if m == nil {
		return
	}
	m.SocketSendRetries.Inc()
}

// GetSnapshot returns a copy of the current values
func (m *Metrics) GetSnapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := m.snapshot
	snap.UptimeSeconds = time.Since(m.startTime).Seconds()
	return snap
}
