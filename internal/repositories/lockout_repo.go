package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/authgate/internal/database"
	"github.com/BradenHooton/authgate/internal/models"
	"github.com/google/uuid"
)

// LockoutRepository handles account_lockouts rows
type LockoutRepository struct {
	db *database.DB
}

// NewLockoutRepository creates a new LockoutRepository
func NewLockoutRepository(db *database.DB) *LockoutRepository {
	return &LockoutRepository{db: db}
}

// GetActiveLock returns the most recent is_locked=true row for email, or
// models.ErrNotFound. Expired rows are returned as-is; expiry is the caller's call.
func (r *LockoutRepository) GetActiveLock(ctx context.Context, email string) (*models.AccountLockout, error) {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, email, user_id, reason, locked_until, is_locked, created_at
		FROM account_lockouts
		WHERE email = $1 AND is_locked = true
		ORDER BY created_at DESC
		LIMIT 1
	`

	var lock models.AccountLockout
	err := r.db.Pool.QueryRow(ctx, query, email).Scan(
		&lock.ID,
		&lock.Email,
		&lock.UserID,
		&lock.Reason,
		&lock.LockedUntil,
		&lock.IsLocked,
		&lock.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &lock, nil
}

// CreateLock inserts a new lock row. Earlier rows are left untouched.
func (r *LockoutRepository) CreateLock(ctx context.Context, lock *models.AccountLockout) error {
	if lock.ID == "" {
		lock.ID = uuid.New().String()
	}
	if lock.CreatedAt.IsZero() {
		lock.CreatedAt = time.Now().UTC()
	}
	lock.IsLocked = true

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO account_lockouts (id, email, user_id, reason, locked_until, is_locked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		lock.ID,
		lock.Email,
		lock.UserID,
		lock.Reason,
		lock.LockedUntil,
		lock.IsLocked,
		lock.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create lockout: %w", database.MapPostgresError(err))
	}

	return nil
}

// ClearLock flips a single row to is_locked=false
func (r *LockoutRepository) ClearLock(ctx context.Context, id string) error {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	query := `UPDATE account_lockouts SET is_locked = false WHERE id = $1`

	tag, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to clear lockout: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
