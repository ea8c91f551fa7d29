package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fixflow/internal/config"
	"fixflow/internal/middleware"
)

// RouterDeps bundles everything the router mounts
type RouterDeps struct {
	Auth    *AuthHandler
	License *LicenseHandler
	Health  *HealthHandler
	WS      http.Handler
	Logger  *slog.Logger
	Rate    config.RateLimitConfig
}

// NewRouter assembles the HTTP surface
func NewRouter(deps RouterDeps) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.StructuredLogger(deps.Logger))
	r.Use(middleware.Recoverer(deps.Logger))
	r.Use(middleware.SecurityHeaders)
	if deps.Rate.Enabled {
		r.Use(middleware.RateLimiter(deps.Rate.RPS, deps.Rate.Burst))
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", deps.Auth.Routes)
		r.Route("/license", deps.License.Routes)
		r.Get("/health", deps.Health.Health)
	})

	r.Handle("/metrics", promhttp.Handler())
	if deps.WS != nil {
		r.Handle("/ws/license", deps.WS)
	}

	return r
}
