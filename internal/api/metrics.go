package api

import (
	"bufio"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"simbroker/internal/domain"
)

// Metrics holds the Prometheus collectors exported on /metrics. Each Server
// owns its registry so several servers can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	ordersSubmitted *prometheus.CounterVec
	requests        *prometheus.CounterVec
	wsClients       prometheus.Gauge
	eventsDropped   prometheus.Counter
}

// NewMetrics creates and registers the simbroker collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ordersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simbroker_orders_submitted_total",
			Help: "Orders accepted by the simulator, by resulting status.",
		}, []string{"status"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simbroker_http_requests_total",
			Help: "REST requests served, by route and status code.",
		}, []string{"route", "code"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simbroker_websocket_clients",
			Help: "Connected order-event websocket clients.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simbroker_websocket_messages_dropped_total",
			Help: "Order events dropped for slow websocket clients.",
		}),
	}
	m.registry.MustRegister(m.ordersSubmitted, m.requests, m.wsClients, m.eventsDropped)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) orderSubmitted(o *domain.Order) {
	m.ordersSubmitted.WithLabelValues(string(o.Status)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack is required by the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(r.ResponseWriter).Hijack()
	if err == nil {
		r.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (m *Metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}
