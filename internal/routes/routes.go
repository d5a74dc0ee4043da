package routes

import (
	"log/slog"
	"net/http"

	"github.com/BradenHooton/authgate/internal/handlers"
	"github.com/BradenHooton/authgate/internal/middleware"
	pkghttp "github.com/BradenHooton/authgate/pkg/http"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Config holds the router's middleware settings
type Config struct {
	Env        string
	AppBaseURL string
	IPConfig   *pkghttp.IPConfig
	RateLimit  middleware.RateLimitConfig
}

// NewRouter builds the gateway router with its global middleware stack
func NewRouter(
	cfg Config,
	gatewayHandler *handlers.GatewayHandler,
	healthHandler *handlers.HealthHandler,
	logger *slog.Logger,
) chi.Router {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(middleware.ClientIP(cfg.IPConfig))
	router.Use(middleware.SecureLogger(logger))
	router.Use(middleware.Recoverer(logger))
	router.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{Env: cfg.Env}))

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		pkghttp.WriteNotFound(w, "Not found")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		pkghttp.WriteNotFound(w, "Not found")
	})

	RegisterRoutes(router, cfg, gatewayHandler, healthHandler)

	return router
}

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	cfg Config,
	gatewayHandler *handlers.GatewayHandler,
	healthHandler *handlers.HealthHandler,
) {
	router.Get("/health", healthHandler.Health)

	router.Route("/auth-gateway", func(r chi.Router) {
		r.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.AppBaseURL)))

		// Preflight is answered by CORS before the limiter sees it
		r.Options("/{action}", func(w http.ResponseWriter, r *http.Request) {})
		r.With(middleware.RateLimitByIP(cfg.RateLimit)).Post("/{action}", gatewayHandler.Dispatch)
	})
}
