package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/authgate/internal/models"
	pkglogger "github.com/BradenHooton/authgate/pkg/logger"
)

// LockoutRepository is the account_lockouts side of the store
type LockoutRepository interface {
	GetActiveLock(ctx context.Context, email string) (*models.AccountLockout, error)
	CreateLock(ctx context.Context, lock *models.AccountLockout) error
	ClearLock(ctx context.Context, id string) error
}

// LockoutNotifier tells an account owner their account was locked
type LockoutNotifier interface {
	NotifyLocked(ctx context.Context, email string, lockedUntil time.Time) error
}

const notifyTimeout = 10 * time.Second

// LockoutService is the Lockout Manager: time-boxed locks with lazy expiry.
// Lock history is additive; rows are only ever flipped from locked to unlocked.
type LockoutService struct {
	repo     LockoutRepository
	notifier LockoutNotifier
	audit    *pkglogger.AuditLogger
	logger   *slog.Logger
	now      func() time.Time
}

// NewLockoutService creates a new LockoutService. notifier may be nil.
func NewLockoutService(repo LockoutRepository, notifier LockoutNotifier, logger *slog.Logger) *LockoutService {
	return &LockoutService{
		repo:     repo,
		notifier: notifier,
		audit:    pkglogger.NewAuditLogger(logger),
		logger:   logger,
		now:      time.Now,
	}
}

// IsLocked reports whether email has an unexpired lock. An expired lock is cleared,
// only the row that was read, and reported as unlocked. Store errors fail open.
func (s *LockoutService) IsLocked(ctx context.Context, email string) models.LockStatus {
	if email == "" {
		return models.LockStatus{}
	}

	lock, err := s.repo.GetActiveLock(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.ErrorContext(ctx, "failed to read lockout state, allowing request",
				slog.String("email", pkglogger.SanitizedEmail(email)),
				slog.Any("error", err))
		}
		return models.LockStatus{}
	}

	if lock.Expired(s.now()) {
		if err := s.repo.ClearLock(ctx, lock.ID); err != nil && !errors.Is(err, models.ErrNotFound) {
			s.logger.WarnContext(ctx, "failed to clear expired lock",
				slog.String("lock_id", lock.ID),
				slog.Any("error", err))
		}
		return models.LockStatus{}
	}

	until := lock.LockedUntil
	return models.LockStatus{
		Locked:      true,
		LockedUntil: &until,
		Reason:      lock.Reason,
	}
}

// Lock inserts a new lock row for email lasting duration and returns its expiry.
// Prior rows are left untouched.
func (s *LockoutService) Lock(ctx context.Context, email string, userID *string, reason string, duration time.Duration) (time.Time, error) {
	lockedUntil := s.now().Add(duration)

	lock := &models.AccountLockout{
		Email:       email,
		UserID:      userID,
		Reason:      reason,
		LockedUntil: lockedUntil,
		IsLocked:    true,
	}
	if err := s.repo.CreateLock(ctx, lock); err != nil {
		return time.Time{}, fmt.Errorf("failed to create lock: %w", err)
	}

	s.audit.LogLockout(ctx, email, reason, lockedUntil)
	s.notify(ctx, email, lockedUntil)

	return lockedUntil, nil
}

// notify sends the lockout email in the background so it never delays the response
func (s *LockoutService) notify(ctx context.Context, email string, lockedUntil time.Time) {
	if s.notifier == nil {
		return
	}

	go func() {
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()

		if err := s.notifier.NotifyLocked(notifyCtx, email, lockedUntil); err != nil {
			s.logger.Error("failed to send lockout notification",
				slog.String("email", pkglogger.SanitizedEmail(email)),
				slog.Any("error", err))
		}
	}()
}
