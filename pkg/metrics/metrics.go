// Package metrics exposes exchange and API metrics to Prometheus
package metrics

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uhyunpark/ledgerdex/pkg/app/dex"
)

const namespace = "ledgerdex"

// Metrics holds every collector, registered on one registry
type Metrics struct {
	registry *prometheus.Registry

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	events            *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	wsClients         prometheus.Gauge
	sinkDropped       *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "exchange",
				Name:      "operations_total",
				Help:      "Exchange operations by outcome",
			},
			[]string{"op", "result"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "exchange",
				Name:      "operation_duration_seconds",
				Help:      "Duration of exchange operations, including persistence",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
			},
			[]string{"op"},
		),
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "exchange",
				Name:      "events_total",
				Help:      "Events emitted by type",
			},
			[]string{"type"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests",
			},
			[]string{"method", "route"},
		),
		wsClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "websocket_clients",
				Help:      "Connected WebSocket clients",
			},
		),
		sinkDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Events dropped by an external sink because its buffer was full",
			},
			[]string{"sink"},
		),
	}
}

// Registry is the registry behind Handler, for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOperation implements dex.Recorder
func (m *Metrics) ObserveOperation(op string, err error, elapsed time.Duration) {
	m.operations.WithLabelValues(op, result(err)).Inc()
	m.operationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// result keeps label cardinality bounded: business rejections by reason
// class, everything else as "error"
func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, dex.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, dex.ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, dex.ErrNotOwner), errors.Is(err, dex.ErrSelfFill):
		return "forbidden"
	case errors.Is(err, dex.ErrOrderFilled), errors.Is(err, dex.ErrOrderCancelled):
		return "conflict"
	default:
		return "error"
	}
}

// ObserveEvent counts ev; pass it to Exchange.Subscribe
func (m *Metrics) ObserveEvent(ev dex.Event) {
	m.events.WithLabelValues(string(ev.Type)).Inc()
}

func (m *Metrics) WebSocketConnected()    { m.wsClients.Inc() }
func (m *Metrics) WebSocketDisconnected() { m.wsClients.Dec() }

// EventDropped counts an event a sink could not buffer
func (m *Metrics) EventDropped(sink string) {
	m.sinkDropped.WithLabelValues(sink).Inc()
}

// Middleware records every request under its mux route template
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
