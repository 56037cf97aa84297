// Package metrics exposes the escrow Prometheus collectors.
package metrics

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	apperrors "github.com/xtrntr/escrow/internal/errors"
	"github.com/xtrntr/escrow/internal/models"
)

var (
	// Registry holds the escrow Prometheus collectors.
	Registry = prometheus.NewRegistry()

	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrow",
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Total number of engine operations by outcome code.",
		},
		[]string{"op", "code"},
	)

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "escrow",
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Duration of engine operations including outbound calls.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~1.6s
		},
		[]string{"op"},
	)

	heldFunds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "escrow",
			Subsystem: "ledger",
			Name:      "held_funds",
			Help:      "Funds currently held by the escrow, in base units.",
		},
	)

	withdrawn = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "escrow",
			Subsystem: "ledger",
			Name:      "withdrawn_total",
			Help:      "Total funds paid out through withdrawals, in base units.",
		},
	)

	events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrow",
			Subsystem: "engine",
			Name:      "events_total",
			Help:      "Total number of emitted engine events.",
		},
		[]string{"kind"},
	)

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "escrow",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrow",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "escrow",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route"},
	)
)

func init() {
	Registry.MustRegister(
		operations,
		operationDuration,
		heldFunds,
		withdrawn,
		events,
		httpInFlight,
		httpRequests,
		httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// ObserveOperation records the outcome and duration of an engine operation.
func ObserveOperation(op string, err error, d time.Duration) {
	code := "OK"
	if err != nil {
		code = string(apperrors.CodeOf(err))
	}
	operations.WithLabelValues(op, code).Inc()
	operationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// SetHeldFunds publishes the escrow's held total.
func SetHeldFunds(amount decimal.Decimal) {
	heldFunds.Set(amount.InexactFloat64())
}

// ObserveWithdrawal adds a payout to the withdrawn total.
func ObserveWithdrawal(amount decimal.Decimal) {
	withdrawn.Add(amount.InexactFloat64())
}

// EventCounter counts engine events by kind.
type EventCounter struct{}

// Record implements the engine's event recorder.
func (EventCounter) Record(_ context.Context, ev models.Event) {
	events.WithLabelValues(string(ev.Kind)).Inc()
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
// Requests are labelled by their chi route pattern to keep cardinality bounded.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
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

// Hijack lets websocket upgrades through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
