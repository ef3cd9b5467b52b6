// Package metrics holds the Prometheus collectors for the proxy relay and the
// play pipeline. Every method is safe on a nil *Metrics so components can run
// without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vtuner"

type Metrics struct {
	registry *prometheus.Registry

	proxyActive   prometheus.Gauge
	proxyBytes    prometheus.Counter
	proxySessions *prometheus.CounterVec
	playRequests  *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		proxyActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "proxy_active_sessions",
			Help:      "Proxy relays currently streaming to a client.",
		}),
		proxyBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_bytes_total",
			Help:      "Bytes relayed from upstream sources to clients.",
		}),
		proxySessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_sessions_total",
			Help:      "Finished proxy relays by outcome.",
		}, []string{"outcome"}),
		playRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "play_requests_total",
			Help:      "Play requests by outcome and the endpoint resolution strategy that won.",
		}, []string{"outcome", "strategy"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.proxyActive,
		m.proxyBytes,
		m.proxySessions,
		m.playRequests,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ProxyStarted() {
	if m == nil {
		return
	}
	m.proxyActive.Inc()
}

func (m *Metrics) ProxyFinished(outcome string) {
	if m == nil {
		return
	}
	m.proxyActive.Dec()
	m.proxySessions.WithLabelValues(outcome).Inc()
}

// ProxyRejected counts a relay that never reached the streaming phase.
func (m *Metrics) ProxyRejected(outcome string) {
	if m == nil {
		return
	}
	m.proxySessions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ProxyBytes(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.proxyBytes.Add(float64(n))
}

func (m *Metrics) PlayRequest(outcome, strategy string) {
	if m == nil {
		return
	}
	if strategy == "" {
		strategy = "none"
	}
	m.playRequests.WithLabelValues(outcome, strategy).Inc()
}
