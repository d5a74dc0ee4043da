package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/authgate/pkg/http"
)

// HealthChecker reports whether the attempt store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler serves GET /health
type HealthHandler struct {
	store  HealthChecker
	logger *slog.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(store HealthChecker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{store: store, logger: logger}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.HealthCheck(ctx); err != nil {
		h.logger.ErrorContext(r.Context(), "health check failed", slog.Any("error", err))
		pkghttp.WriteError(w, http.StatusServiceUnavailable, "unavailable", "Store unreachable")
		return
	}

	pkghttp.WriteSuccess(w, map[string]string{"status": "healthy"}, "")
}
