package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/rowanvale/sentinel/internal/services"
)

// CleanupManager periodically removes expired verification codes and stale
// factor attempt counters from the database.
type CleanupManager struct {
	store         services.Store
	logger        *slog.Logger
	interval      time.Duration
	lockoutWindow time.Duration
	stopCh        chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(store services.Store, logger *slog.Logger, interval, lockoutWindow time.Duration) *CleanupManager {
	return &CleanupManager{
		store:         store,
		logger:        logger,
		interval:      interval,
		lockoutWindow: lockoutWindow,
		stopCh:        make(chan struct{}),
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

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := time.Now().UTC()

	codesDeleted, err := cm.store.VerificationCodes().DeleteExpired(cleanupCtx, now)
	if err != nil {
		cm.logger.Error("failed to cleanup expired verification codes", slog.Any("error", err))
	} else if codesDeleted > 0 {
		cm.logger.Info("expired verification codes removed", slog.Int64("rows_deleted", codesDeleted))
	}

	// Attempt rows only matter inside the sliding window; anything older than
	// two windows can never influence a lockout decision again.
	staleBefore := now.Add(-2 * cm.lockoutWindow)
	attemptsDeleted, err := cm.store.VerifyAttempts().DeleteStale(cleanupCtx, staleBefore)
	if err != nil {
		cm.logger.Error("failed to cleanup stale factor attempts", slog.Any("error", err))
	} else if attemptsDeleted > 0 {
		cm.logger.Info("stale factor attempts removed", slog.Int64("rows_deleted", attemptsDeleted))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
