package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/upb/image-gateway/app"
	"github.com/upb/image-gateway/handlers"
	"github.com/upb/image-gateway/middleware"
	"github.com/upb/image-gateway/utils"
)

// SetupRoutes configures all application routes and middleware.
// Generation requests can run for minutes, so no per-request timeout is applied
// here; the upstream clients carry their own connect and read timeouts.
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger, deps.Metrics))
	r.Use(chimiddleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type",
			middleware.RequestIDHeader, deps.SessionMiddleware.KeyHeader(),
		},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	health := handlers.NewHealthHandler(deps.Config, deps.Providers, deps.Credentials, deps.HealthChecks(), deps.Logger)
	generation := handlers.NewGenerationHandler(deps.Dispatcher, deps.Credentials, deps.Config.Defaults, deps.Logger)

	r.Get("/", health.HandleIndex)
	r.Get("/health", health.HandleHealth)
	r.Get("/health/ready", health.HandleReadiness)

	r.Route("/v1/images", func(r chi.Router) {
		r.Use(deps.SessionMiddleware.ExtractSession)
		r.Post("/generations", generation.HandleGenerate)
	})

	if deps.Config.Observability.MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteMethodNotAllowed(w, "method not allowed")
	})

	return r
}
