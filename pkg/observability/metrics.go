package observability

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Realtime metrics
	ConnectionsActive   prometheus.Gauge
	HandshakesTotal     *prometheus.CounterVec
	ChannelMembers      *prometheus.GaugeVec
	MessagesPublished   *prometheus.CounterVec
	MessagesDelivered   *prometheus.CounterVec
	DeliveryErrorsTotal *prometheus.CounterVec

	// Authorization metrics
	GateDecisionsTotal *prometheus.CounterVec

	// Session metrics
	SessionLookupsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kindred_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kindred_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		ConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kindred_realtime_connections_active",
				Help: "Number of currently open websocket connections",
			},
		),
		HandshakesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kindred_realtime_handshakes_total",
				Help: "Total websocket handshakes by outcome",
			},
			[]string{"outcome"},
		),
		ChannelMembers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kindred_realtime_channel_members",
				Help: "Number of connections registered per channel",
			},
			[]string{"channel"},
		),
		MessagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kindred_pubsub_messages_published_total",
				Help: "Messages published per channel",
			},
			[]string{"channel"},
		),
		MessagesDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kindred_pubsub_messages_delivered_total",
				Help: "Messages fanned out to websocket connections per channel",
			},
			[]string{"channel"},
		),
		DeliveryErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kindred_pubsub_delivery_errors_total",
				Help: "Per-connection delivery failures per channel",
			},
			[]string{"channel"},
		),
		GateDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kindred_authz_decisions_total",
				Help: "Authorization gate decisions by transport and outcome",
			},
			[]string{"transport", "outcome"},
		),
		SessionLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kindred_session_lookups_total",
				Help: "Session store lookups by result",
			},
			[]string{"result"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ConnectionsActive,
		m.HandshakesTotal,
		m.ChannelMembers,
		m.MessagesPublished,
		m.MessagesDelivered,
		m.DeliveryErrorsTotal,
		m.GateDecisionsTotal,
		m.SessionLookupsTotal,
	)

	return m
}

// Handler returns the Prometheus scrape handler for this metric set
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status code for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack forwards to the wrapped writer so websocket upgrades survive the
// metrics wrapper.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	return h.Hijack()
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// HTTPMiddleware instruments an HTTP handler with request metrics
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}
