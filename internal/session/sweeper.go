package session

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often the expiry sweeper runs.
const DefaultSweepInterval = 5 * time.Minute

// StartSweeper runs a background goroutine that periodically evicts expired
// sessions from the cache. Sweeping is best-effort: a session idling exactly
// at the timeout is only guaranteed to be gone within one sweep interval,
// and validation enforces the timeout precisely on access regardless. The
// sweeper stops cleanly when ctx is cancelled.
func StartSweeper(ctx context.Context, mgr *Manager, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "timeout", mgr.Timeout())

		for {
			select {
			case <-ticker.C:
				mgr.CleanupExpiredSessions()
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
