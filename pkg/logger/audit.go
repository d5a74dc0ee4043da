package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent represents one gateway decision worth a security audit line
type AuditEvent struct {
	Action        string
	Email         string
	UserID        string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
}

// AuditLogger writes structured audit lines next to the request log
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogAuthAttempt logs a credentialed gateway decision. Emails are masked.
func (al *AuditLogger) LogAuthAttempt(ctx context.Context, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "auth"),
		slog.String("action", event.Action),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.Email != "" {
		attrs = append(attrs, slog.String("email", SanitizedEmail(event.Email)))
	}
	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// LogLockout logs creation of an account lock
func (al *AuditLogger) LogLockout(ctx context.Context, email, reason string, lockedUntil time.Time) {
	al.logger.LogAttrs(ctx, slog.LevelWarn, "audit",
		slog.String("audit_type", "lockout"),
		slog.String("email", SanitizedEmail(email)),
		slog.String("reason", reason),
		slog.String("locked_until", lockedUntil.UTC().Format(time.RFC3339)),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	)
}

// LogAccountAction logs general account actions such as a completed login
func (al *AuditLogger) LogAccountAction(ctx context.Context, eventType, userID, ipAddress string, metadata map[string]string) {
	attrs := []slog.Attr{
		slog.String("audit_type", "account"),
		slog.String("event_type", eventType),
		slog.String("user_id", userID),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if ipAddress != "" {
		attrs = append(attrs, slog.String("ip_address", ipAddress))
	}

	for key, val := range metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}
