// Package metrics exposes feed, order and HTTP activity to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rustyeddy/vtrader/broker"
)

const namespace = "vtrader"

// Registry holds the metrics on its own prometheus.Registry so several can
// coexist in one process. It implements feed.Stats and trading.Stats.
type Registry struct {
	reg *prometheus.Registry

	TicksIngested    *prometheus.CounterVec
	TicksDropped     *prometheus.CounterVec
	TransportFailure *prometheus.CounterVec

	OrdersPlaced    *prometheus.CounterVec
	OrdersRejected  *prometheus.CounterVec
	PositionsClosed *prometheus.CounterVec

	RequestDuration *prometheus.HistogramVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		TicksIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ticks_total",
				Help:      "Quotes written to the price cache by symbol and source",
			},
			[]string{"symbol", "source"},
		),
		TicksDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ticks_dropped_total",
				Help:      "Malformed live ticks discarded by symbol",
			},
			[]string{"symbol"},
		),
		TransportFailure: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feed_transport_failures_total",
				Help:      "Failed price transport calls by operation",
			},
			[]string{"op"},
		),

		OrdersPlaced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_placed_total",
				Help:      "Market orders filled by symbol and side",
			},
			[]string{"symbol", "side"},
		),
		OrdersRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_rejected_total",
				Help:      "Market orders rejected by error kind",
			},
			[]string{"kind"},
		),
		PositionsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "positions_closed_total",
				Help:      "Positions closed by symbol and reason",
			},
			[]string{"symbol", "reason"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route, method and status",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"route", "method", "status"},
		),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.TicksIngested,
		r.TicksDropped,
		r.TransportFailure,
		r.OrdersPlaced,
		r.OrdersRejected,
		r.PositionsClosed,
		r.RequestDuration,
	)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func (r *Registry) TickIngested(symbol, source string) {
	r.TicksIngested.WithLabelValues(symbol, source).Inc()
}

func (r *Registry) TickDropped(symbol string) {
	r.TicksDropped.WithLabelValues(symbol).Inc()
}

func (r *Registry) TransportFailed(op string) {
	r.TransportFailure.WithLabelValues(op).Inc()
}

func (r *Registry) OrderPlaced(symbol string, side broker.Side) {
	r.OrdersPlaced.WithLabelValues(symbol, string(side)).Inc()
}

func (r *Registry) OrderRejected(kind string) {
	r.OrdersRejected.WithLabelValues(kind).Inc()
}

func (r *Registry) PositionClosed(symbol, reason string) {
	r.PositionsClosed.WithLabelValues(symbol, reason).Inc()
}

// ObserveRequest records one served HTTP request.
func (r *Registry) ObserveRequest(route, method string, status int, d time.Duration) {
	r.RequestDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(d.Seconds())
}
