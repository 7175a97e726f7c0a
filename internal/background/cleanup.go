package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SessionSweeper deactivates sessions past their expiry or inactivity timeout
type SessionSweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// LockoutCleaner drops lockout rows whose window has passed
type LockoutCleaner interface {
	ClearExpired(ctx context.Context) (int64, error)
}

// ChallengeExpirer moves overdue pending challenges to EXPIRED
type ChallengeExpirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// CleanupManager periodically runs the maintenance tasks. Every task is idempotent and a failing
// task never stops the others.
type CleanupManager struct {
	tasks    []cleanupTask
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

type cleanupTask struct {
	name string
	run  func(ctx context.Context) (int64, error)
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	sessions SessionSweeper,
	lockouts LockoutCleaner,
	challenges ChallengeExpirer,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		tasks: []cleanupTask{
			{name: "session_sweep", run: func(ctx context.Context) (int64, error) {
				n, err := sessions.SweepExpired(ctx)
				return int64(n), err
			}},
			{name: "lockout_clear", run: lockouts.ClearExpired},
			{name: "challenge_expiry", run: func(ctx context.Context) (int64, error) {
				n, err := challenges.ExpireStale(ctx)
				return int64(n), err
			}},
		},
		logger:   logger,
		interval: interval,
		timeout:  30 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce runs every task a single time
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	for _, task := range cm.tasks {
		cm.run(ctx, task)
	}
}

func (cm *CleanupManager) run(ctx context.Context, task cleanupTask) {
	taskCtx, cancel := context.WithTimeout(ctx, cm.timeout)
	defer cancel()

	affected, err := task.run(taskCtx)
	if err != nil {
		cm.logger.Error("cleanup task failed", slog.String("task", task.name), slog.Any("error", err))
		return
	}

	if affected > 0 {
		cm.logger.Info("cleanup task completed", slog.String("task", task.name), slog.Int64("affected", affected))
	}
}

// Stop signals the cleanup manager to stop. It is safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
