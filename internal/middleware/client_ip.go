package middleware

import (
	"context"
	"net/http"

	pkghttp "github.com/BradenHooton/authgate/pkg/http"
)

type contextKey string

const clientIPKey contextKey = "client_ip"

// ClientIP resolves the caller's address once, honoring forwarding headers only
// from trusted proxies, and stores it on the request context.
func ClientIP(config *pkghttp.IPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := pkghttp.ExtractClientIP(r, config)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientIPKey, ip)))
		})
	}
}

// ClientIPFromContext returns the address stored by ClientIP, or "" when absent
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}

// ClientIPFromRequest prefers the context value and falls back to RemoteAddr
func ClientIPFromRequest(r *http.Request) string {
	if ip := ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	return pkghttp.ExtractClientIP(r, nil)
}
