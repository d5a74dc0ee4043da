package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/authgate/internal/database"
	"github.com/BradenHooton/authgate/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LoginActivityRepository handles the login_activity audit trail
type LoginActivityRepository struct {
	db *database.DB
}

// NewLoginActivityRepository creates a new LoginActivityRepository
func NewLoginActivityRepository(db *database.DB) *LoginActivityRepository {
	return &LoginActivityRepository{db: db}
}

// RecordActivity appends a fully authenticated login
func (r *LoginActivityRepository) RecordActivity(ctx context.Context, activity *models.LoginActivity) error {
	if activity.ID == "" {
		activity.ID = uuid.New().String()
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO login_activity (id, user_id, email, ip_address, user_agent, method, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		activity.ID,
		activity.UserID,
		activity.Email,
		activity.IPAddress,
		activity.UserAgent,
		activity.Method,
		activity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record login activity: %w", database.MapPostgresError(err))
	}

	return nil
}

// ListByUser returns a user's most recent logins, newest first
func (r *LoginActivityRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.LoginActivity, error) {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, user_id, email, ip_address, user_agent, method, created_at
		FROM login_activity
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list login activity: %w", database.MapPostgresError(err))
	}

	return scanActivityRows(rows)
}

func scanActivityRows(rows pgx.Rows) ([]*models.LoginActivity, error) {
	defer rows.Close()

	activities := make([]*models.LoginActivity, 0)
	for rows.Next() {
		var a models.LoginActivity
		if err := rows.Scan(&a.ID, &a.UserID, &a.Email, &a.IPAddress, &a.UserAgent, &a.Method, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan login activity: %w", err)
		}
		activities = append(activities, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating login activity rows: %w", err)
	}

	return activities, nil
}
