package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestProxyLifecycleCounters(t *testing.T) {
	m := New()

	m.ProxyStarted()
	m.ProxyBytes(1024)
	m.ProxyBytes(-1)
	if got := testutil.ToFloat64(m.proxyActive); got != 1 {
		t.Fatalf("expected one active session, got %v", got)
	}

	m.ProxyFinished("completed")
	m.ProxyRejected("upstream_error")

	if got := testutil.ToFloat64(m.proxyActive); got != 0 {
		t.Fatalf("expected no active sessions, got %v", got)
	}
	if got := testutil.ToFloat64(m.proxyBytes); got != 1024 {
		t.Fatalf("expected 1024 bytes, got %v", got)
	}
	if got := testutil.ToFloat64(m.proxySessions.WithLabelValues("completed")); got != 1 {
		t.Fatalf("expected one completed session, got %v", got)
	}
	if got := testutil.ToFloat64(m.proxySessions.WithLabelValues("upstream_error")); got != 1 {
		t.Fatalf("expected one rejected session, got %v", got)
	}
}

func TestPlayRequestDefaultsStrategy(t *testing.T) {
	m := New()
	m.PlayRequest("config_error", "")
	if got := testutil.ToFloat64(m.playRequests.WithLabelValues("config_error", "none")); got != 1 {
		t.Fatalf("expected strategy none, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ProxyStarted()
	m.ProxyBytes(10)
	m.ProxyFinished("completed")
	m.PlayRequest("ok", "ssdp")
	if m.Registry() != nil {
		t.Fatal("expected nil registry")
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.PlayRequest("ok", "ssdp")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `vtuner_play_requests_total{outcome="ok",strategy="ssdp"} 1`) {
		t.Fatalf("play counter missing from exposition:\n%s", body)
	}
}
