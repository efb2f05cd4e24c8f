package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the API surface. A
// private registry keeps test servers from fighting over the global
// one.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	WSClients       prometheus.Gauge
	WebhookEvents   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clanktank_http_requests_total",
				Help: "HTTP requests by route, method, and status code",
			},
			[]string{"route", "method", "status"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clanktank_http_request_duration_seconds",
				Help:    "HTTP request latency by route and method",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"route", "method"},
		),

		WSClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "clanktank_ws_clients",
				Help: "Connected prize-pool WebSocket clients",
			},
		),

		WebhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clanktank_webhook_events_total",
				Help: "Webhook transfer events by processing outcome",
			},
			[]string{"outcome"},
		),
	}

	m.registry.MustRegister(m.RequestsTotal, m.RequestDuration, m.WSClients, m.WebhookEvents)
	return m
}

// Handler serves the metrics endpoint from the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one finished request.
func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}
