package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/atmx/storefront-engine/internal/metrics"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Log zerolog.Logger
	// Hub enables the /api/v1/ws change feed when non-nil.
	Hub            *Hub
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter mounts the API, health and metrics endpoints.
func NewRouter(h *Handler, opts RouterOptions) chi.Router {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Log))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"storefront-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// The WebSocket route must not sit behind the request timeout.
		if opts.Hub != nil {
			r.Get("/ws", opts.Hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(timeout))

			r.Get("/products", h.ListProducts)
			r.Get("/products/{productID}", h.GetProduct)

			r.Get("/cart", h.GetCart)
			r.Delete("/cart", h.ClearCart)
			r.Post("/cart/items", h.AddToCart)
			r.Put("/cart/items/{productID}", h.SetCartQuantity)
			r.Delete("/cart/items/{productID}", h.RemoveFromCart)

			r.Get("/wishlist", h.GetWishlist)
			r.Post("/wishlist", h.AddToWishlist)
			r.Delete("/wishlist/{productID}", h.RemoveFromWishlist)
			r.Post("/wishlist/{productID}/toggle", h.ToggleWishlist)
			r.Post("/wishlist/{productID}/move-to-cart", h.MoveToCart)

			r.Get("/recently-viewed", h.ListRecentlyViewed)
			r.Post("/recently-viewed", h.RecordView)
			r.Get("/recently-viewed/trending", h.Trending)
			r.Get("/recently-viewed/{productID}/recommendations", h.Recommendations)

			r.Get("/loyalty", h.GetLoyalty)
			r.Post("/loyalty/earn", h.EarnPoints)
			r.Post("/loyalty/redeem", h.RedeemPoints)
			r.Post("/loyalty/referral-code", h.GenerateReferralCode)

			r.Get("/checkout/shipping-methods", h.ShippingMethods)
			r.Post("/checkout/quote", h.Quote)
			r.Post("/checkout/orders", h.PlaceOrder)

			r.Delete("/profile", h.ResetProfile)
		})
	})
	return r
}

// requestLogger logs one line per request with its status and duration.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ev := log.Info()
			if status >= http.StatusInternalServerError {
				ev = log.Error()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("request_id", middleware.GetReqID(r.Context())).
				Int("status", status).
				Int64("duration_ms", time.Since(start).Milliseconds()).
				Msg("request complete")
		})
	}
}
