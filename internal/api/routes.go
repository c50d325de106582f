package api

import (
	"net/http"
	"time"

	"secret.letters/config"
	"secret.letters/internal/letters"
	"secret.letters/internal/metrics"
	"secret.letters/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRouter(svc *letters.Service, s store.Store, cfg *config.Config) *chi.Mux {
	h := NewHandler(svc, s, cfg)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	if cfg.Metrics.Enabled {
		r.Use(Instrument)
	}

	// CORS
	r.Use(CORS(CORSConfig{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		MaxAge:         86400,
	}))

	// Health
	r.Get("/health", h.Health)
	r.Get("/readyz", h.Ready)

	if cfg.Metrics.Enabled {
		metrics.MustRegister()
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	}

	// Letter routes, served under both /api/letters and /letters.
	var limiter *RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = NewRateLimiter(cfg.RateLimit.RequestsPerMin, cfg.RateLimit.Burst)
	}
	letterRoutes := func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Middleware)
		}
		r.Use(JSONOnly)
		r.Use(BodyLimit(cfg.Letters.MaxBodyBytes))

		r.Post("/", h.SubmitLetter)
		r.Get("/", h.GetLetter) // no code: answered with a validation error
		r.Get("/{secretCode}", h.GetLetter)
		r.Post("/{secretCode}/reply", h.ReplyToLetter)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/letters", letterRoutes)
		r.NotFound(h.APINotFound)
	})
	r.Route("/letters", letterRoutes)

	// Frontend
	r.Get("/*", h.ClientShell)

	return r
}
