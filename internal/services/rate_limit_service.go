package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/authgate/internal/models"
	pkglogger "github.com/BradenHooton/authgate/pkg/logger"
)

// AttemptCounter is the read side of the attempt log
type AttemptCounter interface {
	CountRecentFailures(ctx context.Context, action models.Action, email, ipAddress string, since time.Time) (int, error)
}

// RateLimitResult is the Rate Limiter's verdict
type RateLimitResult struct {
	Allowed bool
	Count   int
}

// RateLimitService implements the sliding window limit over failed attempts
type RateLimitService struct {
	repo   AttemptCounter
	logger *slog.Logger
	now    func() time.Time
}

// NewRateLimitService creates a new RateLimitService
func NewRateLimitService(repo AttemptCounter, logger *slog.Logger) *RateLimitService {
	return &RateLimitService{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Check counts failed attempts for action whose email or IP matches within window.
// An empty email counts by IP only. Store errors fail open.
func (s *RateLimitService) Check(ctx context.Context, action models.Action, email, ipAddress string, maxAttempts int, window time.Duration) RateLimitResult {
	since := s.now().Add(-window)

	count, err := s.repo.CountRecentFailures(ctx, action, email, ipAddress, since)
	if err != nil {
		// Fail open
		s.logger.ErrorContext(ctx, "failed to check rate limit, allowing request",
			slog.String("action", string(action)),
			slog.Any("error", err))
		return RateLimitResult{Allowed: true}
	}

	if count >= maxAttempts {
		s.logger.WarnContext(ctx, "rate limit exceeded",
			slog.String("action", string(action)),
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.String("ip_address", ipAddress),
			slog.Int("failed_attempts", count))
		return RateLimitResult{Allowed: false, Count: count}
	}

	return RateLimitResult{Allowed: true, Count: count}
}

// CheckPolicy applies Check with a policy's threshold and window
func (s *RateLimitService) CheckPolicy(ctx context.Context, action models.Action, email, ipAddress string, policy models.RateLimitPolicy) RateLimitResult {
	return s.Check(ctx, action, email, ipAddress, policy.MaxAttempts, policy.Window)
}
