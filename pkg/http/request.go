package http

import (
	"net"
	"net/http"
	"strings"
	"unicode/utf8"
)

// IPConfig holds the proxies whose forwarding headers are believed
type IPConfig struct {
	trusted []*net.IPNet
}

// NewIPConfig parses trusted proxy CIDR ranges. Invalid ranges are skipped and
// returned so the caller can report them.
func NewIPConfig(trustedProxies []string) (*IPConfig, []string) {
	cfg := &IPConfig{}
	var invalid []string
	for _, cidr := range trustedProxies {
		_, ipNet, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			invalid = append(invalid, cidr)
			continue
		}
		cfg.trusted = append(cfg.trusted, ipNet)
	}
	return cfg, invalid
}

// forwardingHeaders are consulted in order when the peer is a trusted proxy.
// CF-Connecting-IP is set by Cloudflare in front of the bot challenge.
var forwardingHeaders = []string{"CF-Connecting-IP", "X-Forwarded-For", "X-Real-IP"}

// ExtractClientIP returns the caller's address. Forwarding headers are honored only
// when the TCP peer is a trusted proxy, so a direct client cannot spoof its IP
// to dodge per-IP rate limits.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := getRemoteAddr(r)

	if config == nil || !config.isTrusted(remoteIP) {
		return remoteIP
	}

	for _, header := range forwardingHeaders {
		value := r.Header.Get(header)
		if value == "" {
			continue
		}
		// X-Forwarded-For may list several hops; the first valid one is the client
		for _, ip := range strings.Split(value, ",") {
			if ip = strings.TrimSpace(ip); net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	return remoteIP
}

// UserAgent returns the caller's User-Agent cleaned for a TEXT column: invalid
// UTF-8 and NUL bytes are dropped and the result is cut on a rune boundary.
func UserAgent(r *http.Request) string {
	const maxLen = 512
	ua := strings.ToValidUTF8(r.UserAgent(), "")
	ua = strings.ReplaceAll(ua, "\x00", "")
	if len(ua) <= maxLen {
		return ua
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(ua[cut]) {
		cut--
	}
	return ua[:cut]
}

// getRemoteAddr extracts the IP address from RemoteAddr, removing the port
func getRemoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

func (c *IPConfig) isTrusted(ip string) bool {
	if len(c.trusted) == 0 {
		return false
	}

	clientIP := net.ParseIP(ip)
	if clientIP == nil {
		return false
	}

	for _, ipNet := range c.trusted {
		if ipNet.Contains(clientIP) {
			return true
		}
	}
	return false
}
