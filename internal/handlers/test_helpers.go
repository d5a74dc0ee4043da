package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/authgate/internal/models"
	"github.com/BradenHooton/authgate/internal/services"
	pkghttp "github.com/BradenHooton/authgate/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAction sets the chi {action} URL parameter on req
func WithAction(req *http.Request, action string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("action", action)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// DecodeEnvelope checks the status and content type and decodes the envelope
func DecodeEnvelope(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int) pkghttp.Envelope {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	var env pkghttp.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "Failed to decode response JSON")
	assert.Equal(t, expectedStatus, env.Status, "Envelope status should mirror HTTP status")
	return env
}

// AssertErrorResponse checks that response is a valid error envelope
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.Envelope {
	t.Helper()
	env := DecodeEnvelope(t, w, expectedStatus)
	assert.False(t, env.OK)
	assert.Equal(t, expectedError, env.Error, "Error code mismatch")
	assert.NotEmpty(t, env.Message, "Error message should not be empty")
	return env
}

// MockGatewayService implements GatewayServiceInterface for testing
type MockGatewayService struct {
	SignupFunc         func(ctx context.Context, in services.SignupInput, meta services.RequestMeta) (json.RawMessage, error)
	LoginFunc          func(ctx context.Context, in services.LoginInput, meta services.RequestMeta) (models.LoginResult, error)
	ForgotPasswordFunc func(ctx context.Context, in services.ForgotPasswordInput, meta services.RequestMeta) error
	VerifyMFAFunc      func(ctx context.Context, in services.VerifyMFAInput, meta services.RequestMeta) (models.Session, error)

	Calls int
}

func (m *MockGatewayService) Signup(ctx context.Context, in services.SignupInput, meta services.RequestMeta) (json.RawMessage, error) {
	m.Calls++
	if m.SignupFunc != nil {
		return m.SignupFunc(ctx, in, meta)
	}
	return json.RawMessage(`{}`), nil
}

func (m *MockGatewayService) Login(ctx context.Context, in services.LoginInput, meta services.RequestMeta) (models.LoginResult, error) {
	m.Calls++
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, in, meta)
	}
	return nil, models.InvalidCredentials()
}

func (m *MockGatewayService) ForgotPassword(ctx context.Context, in services.ForgotPasswordInput, meta services.RequestMeta) error {
	m.Calls++
	if m.ForgotPasswordFunc != nil {
		return m.ForgotPasswordFunc(ctx, in, meta)
	}
	return nil
}

func (m *MockGatewayService) VerifyMFA(ctx context.Context, in services.VerifyMFAInput, meta services.RequestMeta) (models.Session, error) {
	m.Calls++
	if m.VerifyMFAFunc != nil {
		return m.VerifyMFAFunc(ctx, in, meta)
	}
	return models.Session{}, models.NewGatewayError(models.CodeMFAVerificationFailed, "Invalid verification code")
}
