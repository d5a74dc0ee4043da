package middleware

import (
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// devOrigins are always allowed after the app origin so local frontends work
var devOrigins = []string{
	"http://localhost:5173",
	"http://localhost:3000",
	"http://127.0.0.1:5173",
	"http://127.0.0.1:3000",
}

// OriginGate resolves which origin a response may be shared with
type OriginGate struct {
	allowed []string
}

// NewOriginGate builds the allow-list: the app base URL's origin first, then the
// local development origins.
func NewOriginGate(appBaseURL string) *OriginGate {
	var allowed []string
	if origin := originOf(appBaseURL); origin != "" {
		allowed = append(allowed, origin)
	}
	for _, o := range devOrigins {
		if !slices.Contains(allowed, o) {
			allowed = append(allowed, o)
		}
	}
	return &OriginGate{allowed: allowed}
}

// Resolve returns origin when it is allow-listed and the first allow-listed origin
// otherwise. A caller-supplied origin is never echoed unless listed.
func (g *OriginGate) Resolve(origin string) string {
	if slices.Contains(g.allowed, origin) {
		return origin
	}
	return g.allowed[0]
}

// Allowed returns a copy of the allow-list
func (g *OriginGate) Allowed() []string {
	return append([]string(nil), g.allowed...)
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	Gate           *OriginGate
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

// DefaultCORSConfig returns the gateway's CORS configuration for appBaseURL
func DefaultCORSConfig(appBaseURL string) *CORSConfig {
	return &CORSConfig{
		Gate:           NewOriginGate(appBaseURL),
		AllowedMethods: []string{"POST", "OPTIONS"},
		AllowedHeaders: []string{"authorization", "x-client-info", "apikey", "content-type"},
		MaxAge:         3600,
	}
}

// CORS returns a CORS middleware handler. Every response carries the resolved
// origin; a mismatched origin gets a header the browser will reject.
func CORS(config *CORSConfig) func(http.Handler) http.Handler {
	methods := strings.Join(config.AllowedMethods, ", ")
	headers := strings.Join(config.AllowedHeaders, ", ")
	maxAge := strconv.Itoa(config.MaxAge)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", config.Gate.Resolve(r.Header.Get("Origin")))
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", methods)
			h.Set("Access-Control-Allow-Headers", headers)
			if config.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", maxAge)
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// originOf reduces a URL to scheme://host[:port]
func originOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
