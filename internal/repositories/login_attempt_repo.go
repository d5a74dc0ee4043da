package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/authgate/internal/database"
	"github.com/BradenHooton/authgate/internal/models"
	"github.com/google/uuid"
)

// LoginAttemptRepository handles database operations for the append-only attempt log
type LoginAttemptRepository struct {
	db *database.DB
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// RecordAttempt appends an attempt. ID and AttemptedAt are filled in when empty.
func (r *LoginAttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now().UTC()
	}

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO login_attempts (id, action, email, ip_address, user_agent, success, user_id, failure_reason, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		attempt.ID,
		string(attempt.Action),
		attempt.Email,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.Success,
		attempt.UserID,
		attempt.FailureReason,
		attempt.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record login attempt: %w", database.MapPostgresError(err))
	}

	return nil
}

// CountRecentFailures counts failed attempts for an action where the email OR the IP
// matches, at or after since. An empty email matches on IP alone.
func (r *LoginAttemptRepository) CountRecentFailures(ctx context.Context, action models.Action, email, ipAddress string, since time.Time) (int, error) {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE action = $1
		  AND success = false
		  AND attempted_at >= $2
		  AND (($3 <> '' AND email = $3) OR ($4 <> '' AND ip_address = $4))
	`

	var count int
	if err := r.db.Pool.QueryRow(ctx, query, string(action), since, email, ipAddress).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count login failures: %w", database.MapPostgresError(err))
	}
	return count, nil
}

// DeleteOlderThan removes attempts that fall outside every rate limit window
func (r *LoginAttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM login_attempts WHERE attempted_at < $1`
	tag, err := r.db.Pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old login attempts: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}
