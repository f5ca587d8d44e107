// Package metrics provides Prometheus instrumentation for the pool engine.
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
	// SwapsTotal counts executed swaps, partitioned by kind
	// (exact_in / exact_out).
	SwapsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ammx_swaps_total",
		Help: "Total number of swaps executed",
	}, []string{"kind"})

	// SwapLatency tracks swap execution latency in seconds.
	SwapLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ammx_swap_latency_seconds",
		Help:    "Swap execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// LiquidityEventsTotal counts pool creations and liquidity
	// add/remove operations.
	LiquidityEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ammx_liquidity_events_total",
		Help: "Total pool creation and liquidity add/remove operations",
	}, []string{"op"})

	// ActivePools tracks the number of created pools.
	ActivePools = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ammx_active_pools",
		Help: "Number of created pools",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ammx_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ammx_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ammx_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// SwapRejections counts swaps rejected by business rules,
	// partitioned by error kind.
	SwapRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ammx_swap_rejections_total",
		Help: "Swaps rejected by business-rule validation",
	}, []string{"reason"})

	// PairVolume tracks cumulative exact-in swap volume per pair.
	PairVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ammx_pair_volume_total",
		Help: "Cumulative swap input volume per pair",
	}, []string{"pair"})
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

		// Use the raw path for the label; the API surface is small
		// enough that cardinality stays bounded.
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
