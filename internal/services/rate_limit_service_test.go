package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/BradenHooton/authgate/internal/models"
	"github.com/stretchr/testify/assert"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedFailure(store *MemoryStore, action models.Action, email, ip string, at time.Time) {
	reason := "invalid_credentials"
	_ = store.RecordAttempt(context.Background(), &models.LoginAttempt{
		Action:        action,
		Email:         email,
		IPAddress:     ip,
		FailureReason: &reason,
		AttemptedAt:   at,
	})
}

func TestRateLimitService_Check(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("allows below threshold", func(t *testing.T) {
		store := NewMemoryStore()
		svc := NewRateLimitService(store, discardLogger())
		svc.now = func() time.Time { return now }

		for i := 0; i < 4; i++ {
			seedFailure(store, models.ActionLogin, "a@x.com", "1.2.3.4", now.Add(-time.Minute))
		}

		result := svc.Check(ctx, models.ActionLogin, "a@x.com", "5.5.5.5", 5, 15*time.Minute)
		assert.True(t, result.Allowed)
		assert.Equal(t, 4, result.Count)
	})

	t.Run("aggregates across emails sharing an ip", func(t *testing.T) {
		store := NewMemoryStore()
		svc := NewRateLimitService(store, discardLogger())
		svc.now = func() time.Time { return now }

		for i := 0; i < 3; i++ {
			seedFailure(store, models.ActionLogin, "a@x.com", "1.2.3.4", now.Add(-time.Minute))
		}
		for i := 0; i < 2; i++ {
			seedFailure(store, models.ActionLogin, "b@x.com", "1.2.3.4", now.Add(-time.Minute))
		}

		for _, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
			result := svc.Check(ctx, models.ActionLogin, email, "1.2.3.4", 5, 15*time.Minute)
			assert.False(t, result.Allowed, email)
			assert.Equal(t, 5, result.Count, email)
		}
	})

	t.Run("empty ip matches no other empty ip", func(t *testing.T) {
		store := NewMemoryStore()
		svc := NewRateLimitService(store, discardLogger())
		svc.now = func() time.Time { return now }

		for i := 0; i < 5; i++ {
			seedFailure(store, models.ActionLogin, "a@x.com", "", now.Add(-time.Minute))
		}

		result := svc.Check(ctx, models.ActionLogin, "b@x.com", "", 5, 15*time.Minute)
		assert.True(t, result.Allowed)
		assert.Equal(t, 0, result.Count)

		result = svc.Check(ctx, models.ActionLogin, "a@x.com", "", 5, 15*time.Minute)
		assert.False(t, result.Allowed)
	})

	t.Run("ignores attempts outside the window and other actions", func(t *testing.T) {
		store := NewMemoryStore()
		svc := NewRateLimitService(store, discardLogger())
		svc.now = func() time.Time { return now }

		for i := 0; i < 5; i++ {
			seedFailure(store, models.ActionLogin, "a@x.com", "1.2.3.4", now.Add(-16*time.Minute))
			seedFailure(store, models.ActionSignup, "a@x.com", "1.2.3.4", now.Add(-time.Minute))
		}

		result := svc.Check(ctx, models.ActionLogin, "a@x.com", "1.2.3.4", 5, 15*time.Minute)
		assert.True(t, result.Allowed)
		assert.Equal(t, 0, result.Count)
	})

	t.Run("successful attempts do not count", func(t *testing.T) {
		store := NewMemoryStore()
		svc := NewRateLimitService(store, discardLogger())
		svc.now = func() time.Time { return now }

		for i := 0; i < 5; i++ {
			_ = store.RecordAttempt(ctx, &models.LoginAttempt{
				Action: models.ActionLogin, Email: "a@x.com", IPAddress: "1.2.3.4",
				Success: true, AttemptedAt: now,
			})
		}

		assert.True(t, svc.Check(ctx, models.ActionLogin, "a@x.com", "1.2.3.4", 5, 15*time.Minute).Allowed)
	})

	t.Run("empty email counts by ip only", func(t *testing.T) {
		store := NewMemoryStore()
		svc := NewRateLimitService(store, discardLogger())
		svc.now = func() time.Time { return now }

		for i := 0; i < 5; i++ {
			seedFailure(store, models.ActionVerifyMFA, "", "9.9.9.9", now.Add(-time.Minute))
		}

		assert.False(t, svc.Check(ctx, models.ActionVerifyMFA, "", "9.9.9.9", 5, 15*time.Minute).Allowed)
		assert.True(t, svc.Check(ctx, models.ActionVerifyMFA, "", "8.8.8.8", 5, 15*time.Minute).Allowed)
	})

	t.Run("store errors fail open", func(t *testing.T) {
		store := NewMemoryStore()
		store.ReadErr = errors.New("connection refused")
		svc := NewRateLimitService(store, discardLogger())

		result := svc.CheckPolicy(ctx, models.ActionLogin, "a@x.com", "1.2.3.4", models.DefaultPolicies[models.ActionLogin])
		assert.True(t, result.Allowed)
		assert.Equal(t, 0, result.Count)
	})
}
