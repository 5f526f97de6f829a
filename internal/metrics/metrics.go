// Package metrics provides Prometheus instrumentation for the silo engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OperationsTotal counts committed ledger operations by kind and side.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "silo_operations_total",
		Help: "Total ledger operations committed",
	}, []string{"op", "side"})

	// OperationLatency tracks end-to-end operation latency by kind.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "silo_operation_latency_seconds",
		Help:    "Ledger operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// AccrualsTotal counts accrual runs that advanced a side's clock.
	AccrualsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "silo_accruals_total",
		Help: "Accrual runs that advanced a market side",
	})

	// ActiveMarkets tracks the number of created markets.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "silo_active_markets",
		Help: "Number of created markets",
	})

	// LockRejections counts operations rejected by the re-entrancy lock.
	LockRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "silo_lock_rejections_total",
		Help: "Operations rejected while the flash-loan lock was held",
	})

	// WebSocketClients tracks connected event-stream subscribers.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "silo_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "silo_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "silo_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
