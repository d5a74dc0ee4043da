package background

import (
	"context"
	"log/slog"
	"time"
)

// AttemptPruner deletes attempt rows older than a cutoff
type AttemptPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupManager periodically removes login attempts that have aged out of every
// rate limit window and the retention period
type CleanupManager struct {
	attempts  AttemptPruner
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	stopCh    chan struct{}
	now       func() time.Time
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	attempts AttemptPruner,
	logger *slog.Logger,
	interval time.Duration,
	retention time.Duration,
) *CleanupManager {
	return &CleanupManager{
		attempts:  attempts,
		logger:    logger,
		interval:  interval,
		retention: retention,
		stopCh:    make(chan struct{}),
		now:       time.Now,
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// runCleanup removes attempts older than the retention period
func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := cm.now().Add(-cm.retention)
	rowsDeleted, err := cm.attempts.DeleteOlderThan(cleanupCtx, cutoff)
	if err != nil {
		cm.logger.Error("failed to prune login attempts", slog.Any("error", err))
		return
	}

	if rowsDeleted > 0 {
		cm.logger.Info("login attempt cleanup completed",
			slog.Int64("rows_deleted", rowsDeleted),
			slog.Time("cutoff", cutoff))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
