package http_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	pkghttp "github.com/BradenHooton/authgate/pkg/http"
	"github.com/stretchr/testify/assert"
)

func ipConfig(cidrs ...string) *pkghttp.IPConfig {
	cfg, _ := pkghttp.NewIPConfig(cidrs)
	return cfg
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		config     *pkghttp.IPConfig
		want       string
	}{
		{
			name:       "direct connection ignores spoofed headers",
			remoteAddr: "203.0.113.10:54321",
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4, 5.6.7.8", "X-Real-IP": "192.168.1.1"},
			config:     ipConfig("10.0.0.0/8", "127.0.0.1/32"),
			want:       "203.0.113.10",
		},
		{
			name:       "trusted proxy uses first forwarded hop",
			remoteAddr: "10.0.0.5:54321",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.42, 203.0.113.43, 10.0.0.5"},
			config:     ipConfig("10.0.0.0/8"),
			want:       "203.0.113.42",
		},
		{
			name:       "cloudflare header wins from trusted proxy",
			remoteAddr: "10.0.0.5:54321",
			headers:    map[string]string{"CF-Connecting-IP": "198.51.100.7", "X-Forwarded-For": "203.0.113.42"},
			config:     ipConfig("10.0.0.0/8"),
			want:       "198.51.100.7",
		},
		{
			name:       "x-real-ip used when forwarded-for is garbage",
			remoteAddr: "10.0.0.5:54321",
			headers:    map[string]string{"X-Forwarded-For": "not-an-ip", "X-Real-IP": "203.0.113.9"},
			config:     ipConfig("10.0.0.0/8"),
			want:       "203.0.113.9",
		},
		{
			name:       "ipv6 trusted proxy",
			remoteAddr: "[::1]:54321",
			headers:    map[string]string{"X-Forwarded-For": "2001:db8::1"},
			config:     ipConfig("::1/128"),
			want:       "2001:db8::1",
		},
		{
			name:       "nil config defaults to remote addr",
			remoteAddr: "203.0.113.10:54321",
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4"},
			config:     nil,
			want:       "203.0.113.10",
		},
		{
			name:       "invalid cidrs trust nobody",
			remoteAddr: "203.0.113.10:54321",
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4"},
			config:     ipConfig("invalid-cidr-range"),
			want:       "203.0.113.10",
		},
		{
			name:       "localhost claim from untrusted peer is ignored",
			remoteAddr: "203.0.113.10:54321",
			headers:    map[string]string{"X-Forwarded-For": "127.0.0.1"},
			config:     ipConfig("10.0.0.0/8"),
			want:       "203.0.113.10",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "203.0.113.10",
			config:     ipConfig(),
			want:       "203.0.113.10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/auth-gateway/login", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			assert.Equal(t, tt.want, pkghttp.ExtractClientIP(req, tt.config))
		})
	}
}

func TestNewIPConfig_ReportsInvalidRanges(t *testing.T) {
	_, invalid := pkghttp.NewIPConfig([]string{"10.0.0.0/8", "bogus", " 172.16.0.0/12 "})
	assert.Equal(t, []string{"bogus"}, invalid)
}

func TestUserAgent_Truncates(t *testing.T) {
	req := httptest.NewRequest("POST", "/", nil)
	req.Header.Set("User-Agent", strings.Repeat("a", 600))

	assert.Len(t, pkghttp.UserAgent(req), 512)
}

func TestUserAgent_StorableText(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"plain", "Mozilla/5.0", "Mozilla/5.0"},
		{"invalid bytes dropped", "evil\xff\xfe", "evil"},
		{"multibyte kept", "agent-é世", "agent-é世"},
		{"nul dropped", "a\x00b", "ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/", nil)
			req.Header["User-Agent"] = []string{tt.header}

			got := pkghttp.UserAgent(req)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestUserAgent_TruncatesOnRuneBoundary(t *testing.T) {
	req := httptest.NewRequest("POST", "/", nil)
	// 511 ASCII bytes then a 3-byte rune straddling the limit
	req.Header.Set("User-Agent", strings.Repeat("a", 511)+"世世")

	got := pkghttp.UserAgent(req)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 511), got)
}
