package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/copilot-bridge/internal/domain"
)

// DefaultSweepInterval is how often StartTTLWorker looks for idle threads.
const DefaultSweepInterval = 5 * time.Minute

// CleanupCallback is called for every thread the TTL worker removes.
type CleanupCallback func(thread *domain.Thread)

// StartTTLWorker runs a background goroutine that periodically removes
// threads idle for longer than ttl. It stops when ctx is done.
func StartTTLWorker(ctx context.Context, repo Repository, interval, ttl time.Duration, onCleanup CleanupCallback) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				SweepExpired(ctx, repo, ttl, onCleanup)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// SweepExpired deletes every expired thread once and returns how many were removed.
func SweepExpired(ctx context.Context, repo Repository, ttl time.Duration, onCleanup CleanupCallback) int {
	expired, err := repo.GetExpiredThreads(ctx, ttl)
	if err != nil {
		slog.Error("TTL worker failed to get expired threads", "error", err)
		return 0
	}

	removed := 0
	for _, t := range expired {
		if err := repo.DeleteThread(ctx, t.ThreadID); err != nil {
			if ctx.Err() != nil {
				slog.Debug("TTL worker: context canceled, cleanup incomplete", "thread_id", t.ThreadID)
				return removed
			}
			slog.Error("TTL worker failed to delete thread", "thread_id", t.ThreadID, "error", err)
			continue
		}
		removed++
		slog.Info("TTL worker removed idle thread", "thread_id", t.ThreadID, "agent", t.AgentName, "idle", t.Idle(time.Now()))
		if onCleanup != nil {
			onCleanup(t)
		}
	}
	return removed
}
