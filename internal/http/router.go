package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type RouterConfig struct {
	Counsellors *CounsellorHandler
	Sessions    *SessionHandler
	Health      http.Handler
	Metrics     http.Handler
	RateLimiter *RateLimiter
	// APIKey gates /api when set.
	APIKey     KeyAuthenticator
	Middleware []func(http.Handler) http.Handler
}

// NewRouter wires the API. The middleware stack runs in order:
//
//	RealIP -> cfg.Middleware... -> (under /api) RequireAPIKey -> RateLimit(general)
//
// Booking additionally passes through the booking rate limit.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	for _, mw := range cfg.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	if cfg.Health != nil {
		r.Method(http.MethodGet, "/healthz", cfg.Health)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		if cfg.APIKey != nil {
			r.Use(RequireAPIKey(cfg.APIKey, nil))
		}
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.GeneralMiddleware())
		}

		if h := cfg.Counsellors; h != nil {
			r.Route("/counsellors", func(r chi.Router) {
				r.Get("/", h.List)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.Get)
					r.Get("/slots", h.Slots)
				})
			})
		}

		if h := cfg.Sessions; h != nil {
			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", h.List)
				r.Get("/export.xlsx", h.Export)
				if cfg.RateLimiter != nil {
					r.With(cfg.RateLimiter.BookingMiddleware()).Post("/", h.Book)
				} else {
					r.Post("/", h.Book)
				}

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.Get)
					r.Post("/confirm", h.Confirm)
					r.Post("/cancel", h.Cancel)
					r.Post("/reschedule", h.Reschedule)
					r.Post("/complete", h.Complete)
				})
			})
		}
	})

	return r
}
