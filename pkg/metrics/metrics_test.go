package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewWithRegistry(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	if m.ConnectionsOpen == nil {
		t.Error("ConnectionsOpen is nil")
	}
	if m.ConnectionsIdle == nil {
		t.Error("ConnectionsIdle is nil")
	}
	if m.AcquireTotal == nil {
		t.Error("AcquireTotal is nil")
	}
	if m.AcquireDuration == nil {
		t.Error("AcquireDuration is nil")
	}
	if m.EvictionsTotal == nil {
		t.Error("EvictionsTotal is nil")
	}
	if m.KeepAliveResolutions == nil {
		t.Error("KeepAliveResolutions is nil")
	}
}

func TestRecorders(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.ObserveAcquire("http://a:80", ResultOK, time.Millisecond)
	m.ObserveAcquire("http://a:80", ResultOK, time.Millisecond)
	m.ObserveAcquire("http://a:80", ResultExhausted, time.Second)
	m.ConnectionOpened("http://a:80")
	m.ConnectionOpened("http://a:80")
	m.ConnectionClosed("http://a:80")
	m.IdleDelta("http://a:80", 1)
	m.Evicted(EvictKeepAlive)
	m.KeepAliveResolved(SourceHeader)
	m.KeepAliveResolved(SourceDefault)
	m.KeepAliveResolved(SourceDefault)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"acquire ok", testutil.ToFloat64(m.AcquireTotal.WithLabelValues("http://a:80", ResultOK)), 2},
		{"acquire exhausted", testutil.ToFloat64(m.AcquireTotal.WithLabelValues("http://a:80", ResultExhausted)), 1},
		{"open", testutil.ToFloat64(m.ConnectionsOpen.WithLabelValues("http://a:80")), 1},
		{"idle", testutil.ToFloat64(m.ConnectionsIdle.WithLabelValues("http://a:80")), 1},
		{"evicted", testutil.ToFloat64(m.EvictionsTotal.WithLabelValues(EvictKeepAlive)), 1},
		{"keepalive header", testutil.ToFloat64(m.KeepAliveResolutions.WithLabelValues(SourceHeader)), 1},
		{"keepalive default", testutil.ToFloat64(m.KeepAliveResolutions.WithLabelValues(SourceDefault)), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	// None of these may panic.
	m.ObserveAcquire("r", ResultOK, 0)
	m.ConnectionOpened("r")
	m.ConnectionClosed("r")
	m.IdleDelta("r", 1)
	m.Evicted(EvictPoolPressure)
	m.KeepAliveResolved(SourceDefault)
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)
	m.Evicted(EvictPoolPressure)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `httpkit_pool_evictions_total{reason="pool_pressure"} 1`) {
		t.Errorf("metrics output missing eviction counter:\n%s", rec.Body.String())
	}
}
