package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSecurityHeaders_Production(t *testing.T) {
	handler := SecurityHeaders(SecurityHeadersConfig{Env: "production"})

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("POST", "/auth-gateway/login", nil)
	req.TLS = &tls.ConnectionState{}
	w := httptest.NewRecorder()

	handler(testHandler).ServeHTTP(w, req)

	tests := []struct {
		header   string
		expected string
	}{
		{"X-Frame-Options", "DENY"},
		{"X-Content-Type-Options", "nosniff"},
		{"Referrer-Policy", "no-referrer"},
		{"Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload"},
	}

	for _, tt := range tests {
		if got := w.Header().Get(tt.header); got != tt.expected {
			t.Errorf("Header %s: got %q, want %q", tt.header, got, tt.expected)
		}
	}

	if csp := w.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "default-src 'none'") {
		t.Errorf("CSP should deny all content: %s", csp)
	}
}

func TestSecurityHeaders_Development(t *testing.T) {
	handler := SecurityHeaders(SecurityHeadersConfig{Env: "development"})

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("POST", "/auth-gateway/login", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	w := httptest.NewRecorder()

	handler(testHandler).ServeHTTP(w, req)

	if hsts := w.Header().Get("Strict-Transport-Security"); hsts != "" {
		t.Errorf("HSTS should not be set outside production, got %q", hsts)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options: got %q, want DENY", got)
	}
}

func TestSecurityHeaders_ProductionWithoutTLS(t *testing.T) {
	handler := SecurityHeaders(SecurityHeadersConfig{Env: "production"})

	req := httptest.NewRequest("POST", "/", nil)
	w := httptest.NewRecorder()

	handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(w, req)

	if hsts := w.Header().Get("Strict-Transport-Security"); hsts != "" {
		t.Errorf("HSTS should require TLS, got %q", hsts)
	}
}
