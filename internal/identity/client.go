// Package identity is a client for the hosted identity backend's GoTrue-compatible
// auth API: password grant, signup, recovery, factor listing, MFA challenge and verify.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BradenHooton/authgate/internal/models"
)

// maxResponseBytes caps how much of an upstream body is read
const maxResponseBytes = 1 << 20

// Client talks to the identity backend with the public (anon) API key
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
}

// NewClient creates a new identity backend client
func NewClient(baseURL, anonKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		anonKey:    anonKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Response is a decoded identity backend reply. A non-2xx status is not an error;
// callers inspect OK and Status.
type Response struct {
	OK     bool
	Status int
	Data   map[string]any
	Body   json.RawMessage
}

// Message extracts the backend's human readable error message, if any
func (r *Response) Message() string {
	if r == nil || r.Data == nil {
		return ""
	}
	for _, key := range []string{"error_description", "msg", "message", "error"} {
		if v, ok := r.Data[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Session extracts the token pair and user id from a password grant or verify reply
func (r *Response) Session() (models.Session, error) {
	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		User         struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(r.Body, &payload); err != nil {
		return models.Session{}, fmt.Errorf("failed to decode session: %w", err)
	}
	if payload.AccessToken == "" {
		return models.Session{}, fmt.Errorf("session has no access token: %w", models.ErrUpstream)
	}
	return models.Session{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		UserID:       payload.User.ID,
		Body:         r.Body,
	}, nil
}

// PasswordGrant exchanges email and password for a session
func (c *Client) PasswordGrant(ctx context.Context, email, password string) (*Response, error) {
	body := map[string]string{"email": email, "password": password}
	return c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", "", body)
}

// Signup registers a new account. username is stored as user metadata when set.
func (c *Client) Signup(ctx context.Context, email, password, username string) (*Response, error) {
	body := map[string]any{"email": email, "password": password}
	if username != "" {
		body["data"] = map[string]string{"username": username}
	}
	return c.do(ctx, http.MethodPost, "/auth/v1/signup", "", body)
}

// Recover asks the backend to send a password reset email that links to redirectTo
func (c *Client) Recover(ctx context.Context, email, redirectTo string) (*Response, error) {
	path := "/auth/v1/recover"
	if redirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	return c.do(ctx, http.MethodPost, path, "", map[string]string{"email": email})
}

// User is the account behind an access token, as the backend reports it
type User struct {
	ID      string              `json:"id"`
	Email   string              `json:"email"`
	Factors []models.AuthFactor `json:"factors"`
}

// GetUser asks the backend who owns accessToken. The backend checks the token's
// signature and expiry, so a non-nil User means the token was accepted.
// The returned Response is set when the backend rejected the request.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, *Response, error) {
	resp, err := c.do(ctx, http.MethodGet, "/auth/v1/user", accessToken, nil)
	if err != nil {
		return nil, nil, err
	}
	if !resp.OK {
		return nil, resp, nil
	}

	var user User
	if err := json.Unmarshal(resp.Body, &user); err != nil {
		return nil, nil, fmt.Errorf("failed to decode user: %w", err)
	}
	if user.ID == "" {
		return nil, nil, fmt.Errorf("user has no id: %w", models.ErrUpstream)
	}
	return &user, resp, nil
}

// ListFactors returns the factors enrolled for the user owning accessToken
func (c *Client) ListFactors(ctx context.Context, accessToken string) ([]models.AuthFactor, error) {
	user, rejected, err := c.GetUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("list factors returned status %d: %w", rejected.Status, models.ErrUpstream)
	}
	return user.Factors, nil
}

// CreateChallenge opens a challenge for factorID, authorized by the caller's own token.
// The returned Response is set when the backend rejected the request.
func (c *Client) CreateChallenge(ctx context.Context, accessToken, factorID string) (*models.Challenge, *Response, error) {
	resp, err := c.do(ctx, http.MethodPost, "/auth/v1/factors/"+url.PathEscape(factorID)+"/challenge", accessToken, map[string]string{})
	if err != nil {
		return nil, nil, err
	}
	if !resp.OK {
		return nil, resp, nil
	}

	var challenge models.Challenge
	if err := json.Unmarshal(resp.Body, &challenge); err != nil {
		return nil, nil, fmt.Errorf("failed to decode challenge: %w", err)
	}
	if challenge.ID == "" {
		return nil, nil, fmt.Errorf("challenge has no id: %w", models.ErrUpstream)
	}
	return &challenge, resp, nil
}

// VerifyChallenge submits a TOTP code for a challenge. On success the backend returns
// an AAL2 session.
func (c *Client) VerifyChallenge(ctx context.Context, accessToken, factorID, challengeID, code string) (*Response, error) {
	body := map[string]string{"challenge_id": challengeID, "code": code}
	return c.do(ctx, http.MethodPost, "/auth/v1/factors/"+url.PathEscape(factorID)+"/verify", accessToken, body)
}

func (c *Client) do(ctx context.Context, method, path, bearer string, payload any) (*Response, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.anonKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read identity response: %w", classifyTransportError(err))
	}

	out := &Response{
		OK:     resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status: resp.StatusCode,
		Body:   raw,
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		// Non-object bodies are kept raw only
		_ = json.Unmarshal(raw, &out.Data)
	}
	return out, nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("identity backend: %w: %v", models.ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("identity backend: %w: %v", models.ErrUpstream, err)
}
