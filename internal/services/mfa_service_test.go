package services_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/BradenHooton/authgate/internal/identity"
	"github.com/BradenHooton/authgate/internal/identity/identitytest"
	"github.com/BradenHooton/authgate/internal/models"
	"github.com/BradenHooton/authgate/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMFAFixture(t *testing.T) (*identitytest.Server, *services.MFAService) {
	t.Helper()
	backend := identitytest.NewServer()
	t.Cleanup(backend.Close)
	client := identity.NewClient(backend.URL, identitytest.AnonKey, 2*time.Second)
	return backend, services.NewMFAService(client, discardLogger())
}

func TestValidMFACode(t *testing.T) {
	tests := []struct {
		code  string
		valid bool
	}{
		{"123456", true},
		{"000000", true},
		{"12345", false},
		{"1234567", false},
		{"abcdef", false},
		{"12 456", false},
		{"-12345", false},
		{"１２３４５６", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, services.ValidMFACode(tt.code), tt.code)
	}
}

func TestMFAService_ResolveLogin(t *testing.T) {
	backend, svc := newMFAFixture(t)
	ctx := context.Background()

	t.Run("no factors authenticates", func(t *testing.T) {
		userID := backend.AddUser("plain@example.com", "pw")
		session := models.Session{AccessToken: backend.IssueToken(userID, "plain@example.com", models.AAL1), RefreshToken: "refresh", UserID: userID}

		result, err := svc.ResolveLogin(ctx, session)
		require.NoError(t, err)

		authenticated, ok := result.(models.Authenticated)
		require.True(t, ok)
		assert.Equal(t, "refresh", authenticated.Session.RefreshToken)
	})

	t.Run("unverified factors are ignored", func(t *testing.T) {
		userID := backend.AddUser("pending@example.com", "pw")
		backend.EnrollPendingTOTP("pending@example.com")
		session := models.Session{AccessToken: backend.IssueToken(userID, "pending@example.com", models.AAL1), UserID: userID}

		result, err := svc.ResolveLogin(ctx, session)
		require.NoError(t, err)
		assert.IsType(t, models.Authenticated{}, result)
	})

	t.Run("verified factor requires step-up with the first verified factor", func(t *testing.T) {
		userID := backend.AddUser("mfa@example.com", "pw")
		backend.EnrollPendingTOTP("mfa@example.com")
		first := backend.EnrollTOTP("mfa@example.com")
		backend.EnrollTOTP("mfa@example.com")
		token := backend.IssueToken(userID, "mfa@example.com", models.AAL1)

		result, err := svc.ResolveLogin(ctx, models.Session{AccessToken: token, RefreshToken: "refresh", UserID: userID})
		require.NoError(t, err)

		stepUp, ok := result.(models.StepUpRequired)
		require.True(t, ok)
		assert.Equal(t, first, stepUp.FactorID)
		assert.Equal(t, token, stepUp.AAL1AccessToken)
		assert.Equal(t, userID, stepUp.UserID)
	})

	t.Run("factor listing failure is an error", func(t *testing.T) {
		_, err := svc.ResolveLogin(ctx, models.Session{AccessToken: "not-a-token"})
		assert.ErrorIs(t, err, models.ErrUpstream)
	})
}

func TestMFAService_VerifyStepUp(t *testing.T) {
	backend, svc := newMFAFixture(t)
	userID := backend.AddUser("mfa@example.com", "pw")
	factorID := backend.EnrollTOTP("mfa@example.com")
	token := backend.IssueToken(userID, "mfa@example.com", models.AAL1)
	ctx := context.Background()

	t.Run("wrong code is not verified", func(t *testing.T) {
		result, err := svc.VerifyStepUp(ctx, token, factorID, backend.WrongCode(factorID))
		require.NoError(t, err)
		assert.False(t, result.Verified)
		assert.Equal(t, "Invalid TOTP code entered", result.Message)
		assert.Empty(t, result.Session.AccessToken)
	})

	t.Run("unknown factor is not verified", func(t *testing.T) {
		result, err := svc.VerifyStepUp(ctx, token, "unknown-factor", "123456")
		require.NoError(t, err)
		assert.False(t, result.Verified)
	})

	t.Run("correct code returns an aal2 session", func(t *testing.T) {
		result, err := svc.VerifyStepUp(ctx, token, factorID, backend.CurrentCode(factorID))
		require.NoError(t, err)
		require.True(t, result.Verified)
		assert.NotEmpty(t, result.Session.RefreshToken)

		claims, err := identitytest.PeekClaims(result.Session.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, models.AAL2, claims.AAL)
	})

	t.Run("backend outage is an error", func(t *testing.T) {
		backend.FailWith(503)
		defer backend.FailWith(0)

		_, err := svc.VerifyStepUp(ctx, token, factorID, "123456")
		assert.ErrorIs(t, err, models.ErrUpstream)
	})
}

func TestMFAService_AuthenticateToken(t *testing.T) {
	backend, svc := newMFAFixture(t)
	userID := backend.AddUser("owner@example.com", "pw")
	ctx := context.Background()

	t.Run("issued token names its owner", func(t *testing.T) {
		result, err := svc.AuthenticateToken(ctx, backend.IssueToken(userID, "owner@example.com", models.AAL1))
		require.NoError(t, err)
		require.NotNil(t, result.Owner)
		assert.Equal(t, userID, result.Owner.ID)
		assert.Equal(t, "owner@example.com", result.Owner.Email)
	})

	t.Run("forged token is refused", func(t *testing.T) {
		result, err := svc.AuthenticateToken(ctx, backend.ForgeToken(userID, "owner@example.com", models.AAL1))
		require.NoError(t, err)
		assert.Nil(t, result.Owner)
		assert.NotEmpty(t, result.Message)
	})

	t.Run("backend outage is an error", func(t *testing.T) {
		backend.FailWith(503)
		defer backend.FailWith(0)

		_, err := svc.AuthenticateToken(ctx, backend.IssueToken(userID, "owner@example.com", models.AAL1))
		assert.ErrorIs(t, err, models.ErrUpstream)
	})
}
