package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Acquisition results
const (
	ResultOK        = "ok"
	ResultExhausted = "exhausted"
	ResultCanceled  = "canceled"
	ResultError     = "error"
)

// Eviction reasons
const (
	EvictKeepAlive    = "keep_alive"
	EvictPoolPressure = "pool_pressure"
)

// Keep-alive resolution sources
const (
	SourceHeader  = "header"
	SourceDefault = "default"
)

// Metrics holds the Prometheus collectors for client connections.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Pool metrics
	ConnectionsOpen *prometheus.GaugeVec
	ConnectionsIdle *prometheus.GaugeVec
	AcquireTotal    *prometheus.CounterVec
	AcquireDuration *prometheus.HistogramVec
	EvictionsTotal  *prometheus.CounterVec

	// Keep-alive metrics
	KeepAliveResolutions *prometheus.CounterVec
}

// New creates a new Metrics instance registered on the default registerer
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		ConnectionsOpen: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "httpkit_pool_connections_open",
				Help: "Number of open connections holding a pool slot",
			},
			[]string{"route"},
		),
		ConnectionsIdle: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "httpkit_pool_connections_idle",
				Help: "Number of idle connections kept alive",
			},
			[]string{"route"},
		),
		AcquireTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "httpkit_pool_acquire_total",
				Help: "Total number of connection slot acquisitions by result",
			},
			[]string{"route", "result"},
		),
		AcquireDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "httpkit_pool_acquire_duration_seconds",
				Help:    "Time spent waiting for a connection slot",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8), // 0.5ms to ~8s
			},
			[]string{"route"},
		),
		EvictionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "httpkit_pool_evictions_total",
				Help: "Total number of idle connections closed by the pool",
			},
			[]string{"reason"},
		),
		KeepAliveResolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "httpkit_keepalive_resolutions_total",
				Help: "Total number of keep-alive durations resolved, by source",
			},
			[]string{"source"},
		),
	}
}

// ObserveAcquire records the outcome and wait time of a slot acquisition.
func (m *Metrics) ObserveAcquire(route, result string, waited time.Duration) {
	if m == nil {
		return
	}
	m.AcquireTotal.WithLabelValues(route, result).Inc()
	m.AcquireDuration.WithLabelValues(route).Observe(waited.Seconds())
}

// ConnectionOpened increments the open gauge for route.
func (m *Metrics) ConnectionOpened(route string) {
	if m == nil {
		return
	}
	m.ConnectionsOpen.WithLabelValues(route).Inc()
}

// ConnectionClosed decrements the open gauge for route.
func (m *Metrics) ConnectionClosed(route string) {
	if m == nil {
		return
	}
	m.ConnectionsOpen.WithLabelValues(route).Dec()
}

// IdleDelta adjusts the idle gauge for route by delta.
func (m *Metrics) IdleDelta(route string, delta float64) {
	if m == nil {
		return
	}
	m.ConnectionsIdle.WithLabelValues(route).Add(delta)
}

// Evicted counts an idle connection closed for reason.
func (m *Metrics) Evicted(reason string) {
	if m == nil {
		return
	}
	m.EvictionsTotal.WithLabelValues(reason).Inc()
}

// KeepAliveResolved counts a keep-alive resolution from source.
func (m *Metrics) KeepAliveResolved(source string) {
	if m == nil {
		return
	}
	m.KeepAliveResolutions.WithLabelValues(source).Inc()
}

// Handler returns the Prometheus metrics HTTP handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
