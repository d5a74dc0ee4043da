// Package turnstile verifies Cloudflare Turnstile challenge tokens.
package turnstile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultVerifyURL is Cloudflare's siteverify endpoint
const DefaultVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

// ErrorCode is reported for every rejected token
const ErrorCode = "turnstile_failed"

// Result is the verifier's decision
type Result struct {
	OK      bool
	Error   string
	Details string
}

func reject(details string) Result {
	return Result{OK: false, Error: ErrorCode, Details: details}
}

// Client verifies tokens against the siteverify endpoint. It fails closed: any
// configuration, transport, or decoding problem rejects the token.
type Client struct {
	secret     string
	verifyURL  string
	httpClient *http.Client
}

// NewClient creates a new Turnstile client
func NewClient(secret, verifyURL string, timeout time.Duration) *Client {
	if verifyURL == "" {
		verifyURL = DefaultVerifyURL
	}
	return &Client{
		secret:     strings.TrimSpace(secret),
		verifyURL:  verifyURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
	Hostname   string   `json:"hostname"`
}

// Verify checks token for the caller at remoteIP
func (c *Client) Verify(ctx context.Context, token, remoteIP string) Result {
	if c.secret == "" {
		return reject("verification secret not configured")
	}
	if strings.TrimSpace(token) == "" {
		return reject("missing token")
	}

	form := url.Values{}
	form.Set("secret", c.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return reject(fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return reject("verification service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return reject(fmt.Sprintf("verification service returned status %d", resp.StatusCode))
	}

	var body siteverifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return reject("invalid verification response")
	}

	if !body.Success {
		return reject(strings.Join(body.ErrorCodes, ","))
	}

	return Result{OK: true}
}
