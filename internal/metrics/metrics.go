package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Remote API
	UpstreamRequests  atomic.Uint64
	UpstreamRetries   atomic.Uint64
	UpstreamFailures  atomic.Uint64
	UpstreamLatencyMs atomic.Uint64 // Last request latency in ms

	// ROI editor
	SnapshotLoads    atomic.Uint64
	SnapshotFailures atomic.Uint64
	PointerEvents    atomic.Uint64
	FramesRendered   atomic.Uint64
	ConfigSaves      atomic.Uint64
	ConfigSaveErrors atomic.Uint64
	ActiveSessions   atomic.Int64

	// Dashboard
	DashboardRefreshes atomic.Uint64
	DashboardFailures  atomic.Uint64
	LiveEvents         atomic.Uint64

	// Streaming clients (SSE, MJPEG, WebSocket)
	ActiveClients atomic.Int64
	TotalClients  atomic.Uint64

	// Stream health (0 = unhealthy, 1 = healthy)
	StreamHealthy atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		fn,
	))
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) registerPrometheusMetrics() {
	m.counter("footfall_upstream_requests_total", "Requests sent to the footfall API", &m.UpstreamRequests)
	m.counter("footfall_upstream_retries_total", "Footfall API requests retried after a transport error", &m.UpstreamRetries)
	m.counter("footfall_upstream_failures_total", "Footfall API calls that failed after all attempts", &m.UpstreamFailures)
	m.gauge("footfall_upstream_latency_ms", "Latency of the last footfall API call in milliseconds",
		func() float64 { return float64(m.UpstreamLatencyMs.Load()) })

	m.counter("footfall_snapshot_loads_total", "Camera snapshots loaded", &m.SnapshotLoads)
	m.counter("footfall_snapshot_failures_total", "Camera snapshot loads that failed", &m.SnapshotFailures)
	m.counter("footfall_pointer_events_total", "Pointer events applied to ROI editor sessions", &m.PointerEvents)
	m.counter("footfall_frames_rendered_total", "ROI canvas frames rendered", &m.FramesRendered)
	m.counter("footfall_roi_saves_total", "ROI configurations saved", &m.ConfigSaves)
	m.counter("footfall_roi_save_errors_total", "ROI configuration saves that failed", &m.ConfigSaveErrors)
	m.gauge("footfall_editor_sessions", "Open ROI editor sessions",
		func() float64 { return float64(m.ActiveSessions.Load()) })

	m.counter("footfall_dashboard_refreshes_total", "Dashboard refreshes completed", &m.DashboardRefreshes)
	m.counter("footfall_dashboard_failures_total", "Dashboard refreshes that failed", &m.DashboardFailures)
	m.counter("footfall_live_events_total", "Live events received over messaging", &m.LiveEvents)

	m.gauge("footfall_active_clients", "Connected streaming clients",
		func() float64 { return float64(m.ActiveClients.Load()) })
	m.counter("footfall_total_clients", "Streaming clients connected since start", &m.TotalClients)
	m.gauge("footfall_stream_healthy", "Live stream health (0=unhealthy, 1=healthy)",
		func() float64 { return float64(m.StreamHealthy.Load()) })
}

// ObserveUpstream records one remote API call.
func (m *Metrics) ObserveUpstream(start time.Time, err error) {
	m.UpstreamLatencyMs.Store(uint64(time.Since(start).Milliseconds()))
	if err != nil {
		m.UpstreamFailures.Add(1)
	}
}

// ClientConnected tracks a streaming client until the returned func is called.
func (m *Metrics) ClientConnected() func() {
	m.ActiveClients.Add(1)
	m.TotalClients.Add(1)
	return func() { m.ActiveClients.Add(-1) }
}

// SetStreamHealthy records the latest stream probe result.
func (m *Metrics) SetStreamHealthy(ok bool) {
	if ok {
		m.StreamHealthy.Store(1)
	} else {
		m.StreamHealthy.Store(0)
	}
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
