package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/authgate/internal/handlers"
	"github.com/BradenHooton/authgate/internal/models"
	"github.com/BradenHooton/authgate/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dispatch(t *testing.T, svc *handlers.MockGatewayService, action string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	handler := handlers.NewGatewayHandler(svc, discardLogger())
	req := handlers.WithAction(handlers.NewTestRequest(t, http.MethodPost, "/auth-gateway/"+action, body), action)
	w := httptest.NewRecorder()
	handler.Dispatch(w, req)
	return w
}

func TestDispatch_UnknownAction(t *testing.T) {
	svc := &handlers.MockGatewayService{}

	w := dispatch(t, svc, "reset-everything", map[string]string{})

	handlers.AssertErrorResponse(t, w, http.StatusNotFound, "unknown_action")
	assert.Zero(t, svc.Calls)
}

func TestDispatch_MalformedBody(t *testing.T) {
	svc := &handlers.MockGatewayService{}
	handler := handlers.NewGatewayHandler(svc, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/auth-gateway/login", strings.NewReader("{not json"))
	req = handlers.WithAction(req, "login")
	w := httptest.NewRecorder()
	handler.Dispatch(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "invalid_request")
	assert.Zero(t, svc.Calls)
}

func TestDispatch_EmptyBodyReportsMissingEmail(t *testing.T) {
	svc := &handlers.MockGatewayService{}
	handler := handlers.NewGatewayHandler(svc, discardLogger())

	req := handlers.WithAction(httptest.NewRequest(http.MethodPost, "/auth-gateway/login", nil), "login")
	w := httptest.NewRecorder()
	handler.Dispatch(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "email_required")
	assert.Zero(t, svc.Calls)
}

func TestDispatch_Validation(t *testing.T) {
	tests := []struct {
		name     string
		action   string
		body     map[string]string
		wantCode string
	}{
		{"signup missing email", "signup", map[string]string{"password": "pw", "turnstileToken": "t"}, "email_required"},
		{"signup blank email", "signup", map[string]string{"email": "   ", "password": "pw", "turnstileToken": "t"}, "email_required"},
		{"signup missing password", "signup", map[string]string{"email": "a@example.com", "turnstileToken": "t"}, "password_required"},
		{"signup missing turnstile", "signup", map[string]string{"email": "a@example.com", "password": "pw"}, "turnstile_required"},
		{"login missing password", "login", map[string]string{"email": "a@example.com", "turnstileToken": "t"}, "password_required"},
		{"login missing turnstile", "login", map[string]string{"email": "a@example.com", "password": "pw"}, "turnstile_required"},
		{"forgot missing email", "forgot-password", map[string]string{"turnstileToken": "t"}, "email_required"},
		{"forgot missing turnstile", "forgot-password", map[string]string{"email": "a@example.com"}, "turnstile_required"},
		{"verify missing token", "verify-mfa", map[string]string{"factor_id": "f", "code": "123456"}, "aal1_token_required"},
		{"verify missing factor", "verify-mfa", map[string]string{"aal1_access_token": "x", "code": "123456"}, "factor_id_required"},
		{"verify short code", "verify-mfa", map[string]string{"aal1_access_token": "x", "factor_id": "f", "code": "12345"}, "invalid_code_format"},
		{"verify letters", "verify-mfa", map[string]string{"aal1_access_token": "x", "factor_id": "f", "code": "abcdef"}, "invalid_code_format"},
		{"verify missing code", "verify-mfa", map[string]string{"aal1_access_token": "x", "factor_id": "f"}, "invalid_code_format"},
		{"verify padded code", "verify-mfa", map[string]string{"aal1_access_token": "x", "factor_id": "f", "code": " 123456 "}, "invalid_code_format"},
		{"signup oversized email", "signup", map[string]string{"email": strings.Repeat("a", 321), "password": "pw", "turnstileToken": "t"}, "invalid_request"},
		{"login oversized password", "login", map[string]string{"email": "a@example.com", "password": strings.Repeat("p", 1025), "turnstileToken": "t"}, "invalid_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &handlers.MockGatewayService{}

			w := dispatch(t, svc, tt.action, tt.body)

			handlers.AssertErrorResponse(t, w, http.StatusBadRequest, tt.wantCode)
			assert.Zero(t, svc.Calls, "service must not run on invalid input")
		})
	}
}

func TestSignup_ForwardsBackendData(t *testing.T) {
	svc := &handlers.MockGatewayService{
		SignupFunc: func(ctx context.Context, in services.SignupInput, meta services.RequestMeta) (json.RawMessage, error) {
			assert.Equal(t, "new@example.com", in.Email)
			assert.Equal(t, "newbie", in.Username)
			assert.NotEmpty(t, meta.IPAddress)
			return json.RawMessage(`{"id":"user-1","email":"new@example.com"}`), nil
		},
	}

	w := dispatch(t, svc, "signup", handlers.SignupRequest{
		Email:          " new@example.com ",
		Password:       "secret123",
		Username:       "newbie",
		TurnstileToken: "token",
	})

	env := handlers.DecodeEnvelope(t, w, http.StatusOK)
	assert.True(t, env.OK)
	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "user-1", data["id"])
}

func TestLogin_Authenticated(t *testing.T) {
	svc := &handlers.MockGatewayService{
		LoginFunc: func(ctx context.Context, in services.LoginInput, meta services.RequestMeta) (models.LoginResult, error) {
			return models.Authenticated{Session: models.Session{
				AccessToken:  "access",
				RefreshToken: "refresh",
				Body:         json.RawMessage(`{"access_token":"access","refresh_token":"refresh"}`),
			}}, nil
		},
	}

	w := dispatch(t, svc, "login", handlers.LoginRequest{Email: "a@example.com", Password: "pw", TurnstileToken: "t"})

	env := handlers.DecodeEnvelope(t, w, http.StatusOK)
	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "refresh", data["refresh_token"])
	assert.False(t, env.MFARequired)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestLogin_StepUpRequiredOmitsRefreshToken(t *testing.T) {
	svc := &handlers.MockGatewayService{
		LoginFunc: func(ctx context.Context, in services.LoginInput, meta services.RequestMeta) (models.LoginResult, error) {
			return models.StepUpRequired{UserID: "user-1", FactorID: "factor-1", AAL1AccessToken: "aal1"}, nil
		},
	}

	w := dispatch(t, svc, "login", handlers.LoginRequest{Email: "a@example.com", Password: "pw", TurnstileToken: "t"})

	assert.NotContains(t, w.Body.String(), "refresh_token")
	env := handlers.DecodeEnvelope(t, w, http.StatusOK)
	assert.True(t, env.MFARequired)
	assert.Equal(t, "factor-1", env.FactorID)
	assert.Equal(t, "aal1", env.AAL1AccessToken)
	assert.Nil(t, env.Data)
}

func TestGatewayErrors_StatusMapping(t *testing.T) {
	lockedUntil := time.Now().Add(30 * time.Minute).UTC().Truncate(time.Second)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid credentials", models.InvalidCredentials(), http.StatusUnauthorized, "invalid_credentials"},
		{"bot rejected", models.NewGatewayError(models.CodeTurnstileFailed, "Bot verification failed"), http.StatusForbidden, "turnstile_failed"},
		{"locked", models.AccountLocked(lockedUntil, time.Now()), http.StatusLocked, "account_locked"},
		{"rate limited", models.RateLimited(15), http.StatusTooManyRequests, "rate_limited"},
		{"signup failed", models.NewGatewayError(models.CodeSignupFailed, "User already registered"), http.StatusBadRequest, "signup_failed"},
		{"server error", models.ServerError(), http.StatusInternalServerError, "server_error"},
		{"plain error hidden", errors.New("pq: connection refused"), http.StatusInternalServerError, "server_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &handlers.MockGatewayService{
				ForgotPasswordFunc: func(ctx context.Context, in services.ForgotPasswordInput, meta services.RequestMeta) error {
					return tt.err
				},
			}

			w := dispatch(t, svc, "forgot-password", handlers.ForgotPasswordRequest{Email: "a@example.com", TurnstileToken: "t"})

			handlers.AssertErrorResponse(t, w, tt.wantStatus, tt.wantCode)
			assert.NotContains(t, w.Body.String(), "pq:")
		})
	}
}

func TestGatewayErrors_LockAndRetryFields(t *testing.T) {
	now := time.Now()
	lockedUntil := now.Add(30 * time.Minute)

	svc := &handlers.MockGatewayService{
		SignupFunc: func(ctx context.Context, in services.SignupInput, meta services.RequestMeta) (json.RawMessage, error) {
			return nil, models.AccountLocked(lockedUntil, now)
		},
	}

	w := dispatch(t, svc, "signup", handlers.SignupRequest{Email: "a@example.com", Password: "pw", TurnstileToken: "t"})

	env := handlers.AssertErrorResponse(t, w, http.StatusLocked, "account_locked")
	require.NotNil(t, env.LockedUntil)
	assert.WithinDuration(t, lockedUntil, *env.LockedUntil, time.Second)
	assert.Equal(t, 30, env.RetryAfterMinutes)
}

func TestRateLimited_SetsRetryAfterHeader(t *testing.T) {
	svc := &handlers.MockGatewayService{
		LoginFunc: func(ctx context.Context, in services.LoginInput, meta services.RequestMeta) (models.LoginResult, error) {
			return nil, models.RateLimited(15)
		},
	}

	w := dispatch(t, svc, "login", handlers.LoginRequest{Email: "a@example.com", Password: "pw", TurnstileToken: "t"})

	env := handlers.AssertErrorResponse(t, w, http.StatusTooManyRequests, "rate_limited")
	assert.Equal(t, 15, env.RetryAfterMinutes)
	assert.Equal(t, "900", w.Header().Get("Retry-After"))
}

func TestForgotPassword_GenericMessage(t *testing.T) {
	svc := &handlers.MockGatewayService{}

	w := dispatch(t, svc, "forgot-password", handlers.ForgotPasswordRequest{Email: "nobody@example.com", TurnstileToken: "t"})

	env := handlers.DecodeEnvelope(t, w, http.StatusOK)
	assert.Equal(t, services.ForgotPasswordMessage, env.Message)
}

func TestVerifyMFA_ReturnsSession(t *testing.T) {
	svc := &handlers.MockGatewayService{
		VerifyMFAFunc: func(ctx context.Context, in services.VerifyMFAInput, meta services.RequestMeta) (models.Session, error) {
			assert.Equal(t, "123456", in.Code)
			return models.Session{Body: json.RawMessage(`{"access_token":"aal2","refresh_token":"r"}`)}, nil
		},
	}

	w := dispatch(t, svc, "verify-mfa", handlers.VerifyMFARequest{AAL1AccessToken: "aal1", FactorID: "f", Code: "123456"})

	env := handlers.DecodeEnvelope(t, w, http.StatusOK)
	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "aal2", data["access_token"])
}

func TestVerifyMFA_Rejected(t *testing.T) {
	svc := &handlers.MockGatewayService{}

	w := dispatch(t, svc, "verify-mfa", handlers.VerifyMFARequest{AAL1AccessToken: "aal1", FactorID: "f", Code: "000000"})

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "mfa_verification_failed")
}
