package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/authgate/internal/models"
	pkglogger "github.com/BradenHooton/authgate/pkg/logger"
)

// AttemptRecorder is the write side of the attempt log
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error
}

// ActivityRecorder persists completed logins
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, activity *models.LoginActivity) error
}

// AuditService handles audit logging with a dual-write pattern (slog + database).
// Attempts feed the Rate Limiter; activity rows are never read by the pipeline.
type AuditService struct {
	attempts AttemptRecorder
	activity ActivityRecorder
	audit    *pkglogger.AuditLogger
	logger   *slog.Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(attempts AttemptRecorder, activity ActivityRecorder, logger *slog.Logger) *AuditService {
	return &AuditService{
		attempts: attempts,
		activity: activity,
		audit:    pkglogger.NewAuditLogger(logger),
		logger:   logger,
	}
}

// RecordAttempt appends one attempt row. The write is attempted before the caller
// responds; a failure is logged and not surfaced.
func (s *AuditService) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) {
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now().UTC()
	}

	event := pkglogger.AuditEvent{
		Action:    string(attempt.Action),
		Email:     attempt.Email,
		IPAddress: attempt.IPAddress,
		UserAgent: attempt.UserAgent,
		Success:   attempt.Success,
	}
	if attempt.UserID != nil {
		event.UserID = *attempt.UserID
	}
	if attempt.FailureReason != nil {
		event.FailureReason = *attempt.FailureReason
	}
	s.audit.LogAuthAttempt(ctx, event)

	if err := s.attempts.RecordAttempt(ctx, attempt); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist login attempt",
			slog.String("action", string(attempt.Action)),
			slog.Any("error", err))
	}
}

// RecordLoginActivity appends a login_activity row for a fully authenticated login
func (s *AuditService) RecordLoginActivity(ctx context.Context, activity *models.LoginActivity) {
	s.audit.LogAccountAction(ctx, "login", activity.UserID, activity.IPAddress, map[string]string{
		"method": activity.Method,
	})

	if err := s.activity.RecordActivity(ctx, activity); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist login activity",
			slog.String("user_id", activity.UserID),
			slog.Any("error", err))
	}
}

// failedAttempt builds a failure row for action
func failedAttempt(action models.Action, email string, meta RequestMeta, reason string) *models.LoginAttempt {
	return &models.LoginAttempt{
		Action:        action,
		Email:         email,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		Success:       false,
		FailureReason: &reason,
	}
}

// succeededAttempt builds a success row for action. userID may be empty.
func succeededAttempt(action models.Action, email string, meta RequestMeta, userID string) *models.LoginAttempt {
	attempt := &models.LoginAttempt{
		Action:    action,
		Email:     email,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Success:   true,
	}
	if userID != "" {
		attempt.UserID = &userID
	}
	return attempt
}
