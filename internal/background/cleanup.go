package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LockSweeper clears persisted account locks whose time has passed
type LockSweeper interface {
	SweepExpiredLocks(ctx context.Context) (int64, error)
}

// CleanupManager periodically clears expired account locks.
// KV entries expire on their own; only the database needs sweeping.
type CleanupManager struct {
	sweeper  LockSweeper
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(sweeper LockSweeper, logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		sweeper:  sweeper,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task. It blocks until Stop or ctx is done.
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

	cleared, err := cm.sweeper.SweepExpiredLocks(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to clear expired account locks", slog.Any("error", err))
		return
	}

	if cleared > 0 {
		cm.logger.Info("expired account locks cleared", slog.Int64("accounts", cleared))
	}
}

// Stop signals the cleanup manager to stop. Safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
