package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/lasweety/sweetyshop/internal/admin"
	"github.com/lasweety/sweetyshop/internal/carrier"
	"github.com/lasweety/sweetyshop/internal/checkout"
	"github.com/lasweety/sweetyshop/internal/httpx"
	"github.com/lasweety/sweetyshop/internal/logger"
	"github.com/lasweety/sweetyshop/internal/middleware"
	"github.com/lasweety/sweetyshop/internal/order"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	CORSOrigins      []string
	WebhookSecret    string
	WebhookTolerance time.Duration
	AdminToken       string
	JWTSecret        []byte
}

type Handlers struct {
	Checkout *checkout.Handler
	Orders   *order.Handler
	Admin    *admin.Handler
	Carrier  *carrier.Handler
}

func NewRouter(cfg Config, h Handlers, store Pinger) chi.Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(logger.WithLogging)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "x-admin-token", "Accept"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			httpx.WriteError(w, http.StatusServiceUnavailable, "storage unavailable")
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	compress := chiMiddleware.Compress(5, "application/json")

	r.Route("/api", func(r chi.Router) {
		r.Route("/checkout", func(r chi.Router) {
			// The signature covers the raw bytes, so the webhook stays outside
			// the compression middlewares.
			r.With(middleware.StripeSignature(cfg.WebhookSecret, cfg.WebhookTolerance)).
				Post("/webhook", h.Checkout.Webhook)

			r.Group(func(r chi.Router) {
				r.Use(compress, middleware.GunzipRequest)
				h.Checkout.Routes(r)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(compress, middleware.GunzipRequest)

			r.Get("/products", h.Checkout.ListProducts)
			r.Route("/chronopost", h.Carrier.Routes)

			r.Route("/admin", func(r chi.Router) {
				h.Admin.PublicRoutes(r)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireAdmin(cfg.AdminToken, cfg.JWTSecret))
					h.Orders.Routes(r)
					h.Checkout.AdminRoutes(r)
					h.Admin.Routes(r)
				})
			})
		})
	})

	return r
}
