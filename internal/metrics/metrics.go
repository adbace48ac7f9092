// Package metrics provides Prometheus instrumentation for the storefront engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StoreMutations counts reducer applications, partitioned by store and intent.
	StoreMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_store_mutations_total",
		Help: "Total number of state transitions applied",
	}, []string{"store", "intent"})

	// PersistFailures counts snapshot writes that failed. The in-memory state
	// is kept regardless.
	PersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_persist_failures_total",
		Help: "Snapshot writes that failed after a mutation",
	}, []string{"store"})

	// SnapshotFallbacks counts loads that fell back to the default state.
	SnapshotFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_snapshot_fallbacks_total",
		Help: "Snapshot loads that returned the default state",
	}, []string{"key", "reason"})

	// PointsEarned tracks cumulative loyalty points granted.
	PointsEarned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_loyalty_points_earned_total",
		Help: "Loyalty points earned",
	})

	// PointsRedeemed tracks cumulative loyalty points spent.
	PointsRedeemed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_loyalty_points_redeemed_total",
		Help: "Loyalty points redeemed",
	})

	// RedemptionRejections counts redeem attempts above the balance.
	RedemptionRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_loyalty_redemption_rejections_total",
		Help: "Redemptions rejected for insufficient balance",
	})

	// BadgesAwarded counts badges granted by type.
	BadgesAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_loyalty_badges_awarded_total",
		Help: "Badges awarded",
	}, []string{"type"})

	// OrdersPlaced counts completed checkouts by shipping method.
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_orders_placed_total",
		Help: "Orders placed",
	}, []string{"shipping_method"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storefront_http_request_duration_seconds",
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
		// The chi wrapper keeps http.Hijacker for WebSocket upgrades.
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		duration := time.Since(start).Seconds()

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		// Route pattern keeps the path label low-cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}
