//go:build integration

package repositories_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/BradenHooton/authgate/internal/database"
	"github.com/BradenHooton/authgate/internal/models"
	"github.com/BradenHooton/authgate/internal/repositories"
)

// setupTestDatabase starts a Postgres container, applies migrations and returns a DB
func setupTestDatabase(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("authgate"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, database.Migrate(ctx, connStr, logger))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return database.NewFromPool(pool, 3*time.Second, logger)
}

func TestStore_Integration(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	attempts := repositories.NewLoginAttemptRepository(db)
	lockouts := repositories.NewLockoutRepository(db)
	activity := repositories.NewLoginActivityRepository(db)

	t.Run("counts failures by email or ip within the window", func(t *testing.T) {
		now := time.Now().UTC()
		record := func(email, ip string, success bool, at time.Time) {
			require.NoError(t, attempts.RecordAttempt(ctx, &models.LoginAttempt{
				Action:      models.ActionLogin,
				Email:       email,
				IPAddress:   ip,
				Success:     success,
				AttemptedAt: at,
			}))
		}

		for i := 0; i < 3; i++ {
			record("a@x.com", "1.2.3.4", false, now.Add(-time.Minute))
		}
		for i := 0; i < 2; i++ {
			record("b@x.com", "1.2.3.4", false, now.Add(-time.Minute))
		}
		record("a@x.com", "9.9.9.9", true, now)
		record("a@x.com", "9.9.9.9", false, now.Add(-time.Hour))

		since := now.Add(-15 * time.Minute)

		count, err := attempts.CountRecentFailures(ctx, models.ActionLogin, "a@x.com", "1.2.3.4", since)
		require.NoError(t, err)
		assert.Equal(t, 5, count)

		count, err = attempts.CountRecentFailures(ctx, models.ActionLogin, "", "1.2.3.4", since)
		require.NoError(t, err)
		assert.Equal(t, 5, count)

		count, err = attempts.CountRecentFailures(ctx, models.ActionSignup, "a@x.com", "1.2.3.4", since)
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		// Rows with no address never match a caller with no address
		record("c@x.com", "", false, now.Add(-time.Minute))
		record("d@x.com", "", false, now.Add(-time.Minute))

		count, err = attempts.CountRecentFailures(ctx, models.ActionLogin, "e@x.com", "", since)
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		count, err = attempts.CountRecentFailures(ctx, models.ActionLogin, "c@x.com", "", since)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		deleted, err := attempts.DeleteOlderThan(ctx, now.Add(-30*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)
	})

	t.Run("active lock is the most recent locked row", func(t *testing.T) {
		_, err := lockouts.GetActiveLock(ctx, "locked@x.com")
		assert.ErrorIs(t, err, models.ErrNotFound)

		older := &models.AccountLockout{
			Email:       "locked@x.com",
			Reason:      models.LockReasonTooManyLogins,
			LockedUntil: time.Now().Add(10 * time.Minute),
			CreatedAt:   time.Now().Add(-time.Minute),
		}
		newer := &models.AccountLockout{
			Email:       "locked@x.com",
			Reason:      models.LockReasonTooManyLogins,
			LockedUntil: time.Now().Add(30 * time.Minute),
		}
		require.NoError(t, lockouts.CreateLock(ctx, older))
		require.NoError(t, lockouts.CreateLock(ctx, newer))

		active, err := lockouts.GetActiveLock(ctx, "locked@x.com")
		require.NoError(t, err)
		assert.Equal(t, newer.ID, active.ID)

		require.NoError(t, lockouts.ClearLock(ctx, newer.ID))

		active, err = lockouts.GetActiveLock(ctx, "locked@x.com")
		require.NoError(t, err)
		assert.Equal(t, older.ID, active.ID)

		assert.ErrorIs(t, lockouts.ClearLock(ctx, "6f1c2b9e-0000-4000-8000-000000000000"), models.ErrNotFound)
	})

	t.Run("login activity round trip", func(t *testing.T) {
		require.NoError(t, activity.RecordActivity(ctx, &models.LoginActivity{
			UserID: "user-1",
			Email:  "a@x.com",
			Method: models.LoginMethodPasswordMFA,
		}))

		rows, err := activity.ListByUser(ctx, "user-1", 10)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, models.LoginMethodPasswordMFA, rows[0].Method)
	})
}
