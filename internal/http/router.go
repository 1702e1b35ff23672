package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
	JWTSecret          []byte
	Limiter            *RateLimiter

	// Ready reports whether backing stores are reachable. Nil means always ready.
	Ready func(ctx context.Context) error
}

type Handlers struct {
	Cart     *CartHandler
	Checkout *CheckoutHandler
	Webpay   *WebpayHandler
	Pages    *PageHandler
}

// NewRouter wires the storefront routes. The returned handler is wrapped in
// otelhttp so each request gets a server span.
func NewRouter(cfg RouterConfig, h Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.Compress(5))
	r.Use(MaxBodyMiddleware(cfg.MaxRequestBodySize))
	r.Use(NoticesMiddleware)
	r.Use(Authenticate(cfg.JWTSecret))

	limit := func(next http.Handler) http.Handler { return next }
	if cfg.Limiter != nil {
		limit = cfg.Limiter.Middleware
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			if err := cfg.Ready(r.Context()); err != nil {
				respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// same-origin gateway relay
	r.Route("/api/webpay", func(r chi.Router) {
		r.Use(RequireUser, limit)
		r.Post("/create", h.Webpay.Create)
		r.Post("/confirm", h.Webpay.Confirm)
	})

	r.Route("/checkout/webpay", func(r chi.Router) {
		r.With(RequireUser).Get("/redirect", h.Pages.Redirect)
		r.Get("/result", h.Pages.Result)
		r.Post("/result", h.Pages.Result)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.Cart.GetCart)
			r.Delete("/", h.Cart.ClearCart)
			r.Post("/items", h.Cart.AddItem)
			r.Put("/items/{id}", h.Cart.UpdateQuantity)
			r.Delete("/items/{id}", h.Cart.RemoveItem)
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Use(RequireUser)
			r.Post("/", h.Checkout.Start)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.Checkout.Get)
				r.Post("/personal-info", h.Checkout.SubmitPersonalInfo)
				r.Post("/shipping-address", h.Checkout.SubmitShippingAddress)
				r.Post("/payment-details", h.Checkout.SubmitPaymentDetails)
				r.Post("/back", h.Checkout.Back)
				r.With(limit).Post("/pay", h.Checkout.Pay)
			})
		})
	})

	return otelhttp.NewHandler(r, "storefront")
}
