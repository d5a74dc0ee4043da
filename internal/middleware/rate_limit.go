package middleware

import (
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/authgate/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds the coarse per-IP request cap that sits in front of the
// gateway's own attempt-based limits
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultGatewayRateLimit returns the default per-IP cap for /auth-gateway
func DefaultGatewayRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 30,
	}
}

// RateLimitByIP creates a middleware that caps requests per client IP. The key is
// the address resolved by ClientIP, so forwarding headers are not trusted blindly.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	if config.RequestsPerMinute <= 0 {
		config = DefaultGatewayRateLimit()
	}

	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return ClientIPFromRequest(r), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteEnvelope(w, pkghttp.Envelope{
				Status:            http.StatusTooManyRequests,
				Error:             "rate_limited",
				Message:           "Too many requests. Please slow down.",
				RetryAfterMinutes: 1,
			})
		}),
	)
}
