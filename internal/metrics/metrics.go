// Package metrics holds the Prometheus metrics of the irrigate server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus metrics for the server
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	eventsTotal     *prometheus.CounterVec
	deviceRequests  *prometheus.CounterVec
	streamClients   *prometheus.GaugeVec
}

// New creates metrics registered on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "irrigate_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "irrigate_http_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "irrigate_events_total",
				Help: "Events appended to the event log",
			},
			[]string{"event_type"},
		),
		deviceRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "irrigate_device_requests_total",
				Help: "Requests forwarded to the irrigation controller",
			},
			[]string{"endpoint", "outcome"},
		),
		streamClients: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "irrigate_stream_clients",
				Help: "Connected event stream clients",
			},
			[]string{"transport"},
		),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.eventsTotal,
		m.deviceRequests,
		m.streamClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordRequest records metrics for an HTTP request
func (m *Metrics) RecordRequest(method, path string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordEvent counts an appended event
func (m *Metrics) RecordEvent(eventType string) {
	m.eventsTotal.WithLabelValues(eventType).Inc()
}

// RecordDeviceRequest counts a controller request; outcome is the HTTP
// status code or "error"
func (m *Metrics) RecordDeviceRequest(endpoint, outcome string) {
	m.deviceRequests.WithLabelValues(endpoint, outcome).Inc()
}

// StreamOpened tracks a new stream client
func (m *Metrics) StreamOpened(transport string) {
	m.streamClients.WithLabelValues(transport).Inc()
}

// StreamClosed tracks a disconnected stream client
func (m *Metrics) StreamClosed(transport string) {
	m.streamClients.WithLabelValues(transport).Dec()
}

// Registry exposes the registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
