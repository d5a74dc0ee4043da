package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	pkghttp "github.com/BradenHooton/authgate/pkg/http"
	"github.com/go-chi/chi/v5/middleware"
)

// Recoverer turns a panic into a 500 server_error envelope. The panic value and
// stack are logged with the request id; nothing about them reaches the client.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.ErrorContext(r.Context(), "panic recovered",
					slog.Any("panic", rec),
					slog.String("request_id", middleware.GetReqID(r.Context())),
					slog.String("stack", string(debug.Stack())))

				pkghttp.WriteInternalError(w)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
