// Package metrics holds the Prometheus collectors exported by the server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "circles"

// Metrics groups the collectors. A nil *Metrics records nothing, so
// components can be built without metrics in tests.
type Metrics struct {
	registry *prometheus.Registry

	rpcRequests *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec

	subscribers     prometheus.Gauge
	eventsPublished *prometheus.CounterVec
	eventsDropped   prometheus.Counter
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "RPC calls by procedure and result code.",
		}, []string{"procedure", "code"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_duration_seconds",
			Help:      "RPC latency by procedure.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"procedure"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_subscribers",
			Help:      "Open change feed subscriptions.",
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_events_published_total",
			Help:      "Change events published by collection and kind.",
		}, []string{"collection", "kind"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_events_dropped_total",
			Help:      "Change events not delivered because a subscriber fell behind.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.rpcRequests,
		m.rpcDuration,
		m.subscribers,
		m.eventsPublished,
		m.eventsDropped,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRPC records one finished RPC.
func (m *Metrics) ObserveRPC(procedure, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.rpcRequests.WithLabelValues(procedure, code).Inc()
	m.rpcDuration.WithLabelValues(procedure).Observe(elapsed.Seconds())
}

func (m *Metrics) SubscriberOpened() {
	if m != nil {
		m.subscribers.Inc()
	}
}

func (m *Metrics) SubscriberClosed() {
	if m != nil {
		m.subscribers.Dec()
	}
}

func (m *Metrics) EventPublished(collection, kind string) {
	if m != nil {
		m.eventsPublished.WithLabelValues(collection, kind).Inc()
	}
}

func (m *Metrics) EventDropped() {
	if m != nil {
		m.eventsDropped.Inc()
	}
}
