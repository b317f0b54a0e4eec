// Package observability provides Prometheus metrics for the stream and serve pipelines.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "dex_market_data"

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	registry *prometheus.Registry

	// Subscriber metrics
	WSFrames     *prometheus.CounterVec
	WSReconnects prometheus.Counter
	WSState      prometheus.Gauge

	// Dispatch metrics
	EventsDispatched prometheus.Counter
	EventsDropped    *prometheus.CounterVec

	// Producer metrics
	FeedsPublished  *prometheus.CounterVec
	PublishFailures *prometheus.CounterVec
	PublishLatency  prometheus.Histogram

	// Consumer metrics
	MessagesConsumed *prometheus.CounterVec
	MessagesSkipped  *prometheus.CounterVec
	StoredFeeds      prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = defaultNamespace
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		WSFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriber",
			Name:      "ws_frames_total",
			Help:      "Total number of websocket frames received by kind",
		}, []string{"kind"}),
		WSReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriber",
			Name:      "ws_reconnects_total",
			Help:      "Total number of websocket reconnect attempts",
		}),
		WSState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscriber",
			Name:      "ws_state",
			Help:      "Current subscriber state (0 disconnected, 1 connecting, 2 connected)",
		}),

		EventsDispatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "events_dispatched_total",
			Help:      "Total number of log events routed to at least one callback",
		}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "events_dropped_total",
			Help:      "Total number of log events dropped by reason",
		}, []string{"reason"}),

		FeedsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "feeds_published_total",
			Help:      "Total number of feeds published by topic",
		}, []string{"topic"}),
		PublishFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "publish_failures_total",
			Help:      "Total number of failed feed publishes by topic",
		}, []string{"topic"}),
		PublishLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "publish_latency_seconds",
			Help:      "Latency of a synchronous feed publish",
			Buckets:   prometheus.DefBuckets,
		}),

		MessagesConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "messages_consumed_total",
			Help:      "Total number of bus messages applied to the feed store by topic",
		}, []string{"topic"}),
		MessagesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "messages_skipped_total",
			Help:      "Total number of bus messages skipped by reason",
		}, []string{"reason"}),
		StoredFeeds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "stored_feeds",
			Help:      "Number of symbols held in the feed store",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordFrame counts one inbound websocket frame.
func (m *Metrics) RecordFrame(kind string) {
	if m == nil {
		return
	}
	m.WSFrames.WithLabelValues(kind).Inc()
}

// RecordReconnect counts one reconnect attempt.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.WSReconnects.Inc()
}

// SetState records the current subscriber state.
func (m *Metrics) SetState(state int) {
	if m == nil {
		return
	}
	m.WSState.Set(float64(state))
}

// RecordDispatched counts one routed event.
func (m *Metrics) RecordDispatched() {
	if m == nil {
		return
	}
	m.EventsDispatched.Inc()
}

// RecordDropped counts one dropped event.
func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(reason).Inc()
}

// RecordPublish counts one publish attempt and its latency.
func (m *Metrics) RecordPublish(topic string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.PublishLatency.Observe(seconds)
	if err != nil {
		m.PublishFailures.WithLabelValues(topic).Inc()
		return
	}
	m.FeedsPublished.WithLabelValues(topic).Inc()
}

// RecordConsumed counts one applied bus message.
func (m *Metrics) RecordConsumed(topic string, stored int) {
	if m == nil {
		return
	}
	m.MessagesConsumed.WithLabelValues(topic).Inc()
	m.StoredFeeds.Set(float64(stored))
}

// RecordSkipped counts one skipped bus message.
func (m *Metrics) RecordSkipped(reason string) {
	if m == nil {
		return
	}
	m.MessagesSkipped.WithLabelValues(reason).Inc()
}
