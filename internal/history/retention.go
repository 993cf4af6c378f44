package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/healdash/internal/store"
)

// DefaultRetentionInterval is how often the retention worker sweeps.
const DefaultRetentionInterval = time.Hour

// StartRetentionWorker runs a background goroutine that periodically deletes
// runs older than retention. A non-positive retention disables it.
func StartRetentionWorker(ctx context.Context, repo store.Repository, retention, interval time.Duration) {
	if retention <= 0 {
		slog.Info("Retention worker disabled")
		return
	}
	if interval <= 0 {
		interval = DefaultRetentionInterval
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", interval, "retention", retention)

		Prune(ctx, repo, retention, time.Now())
		for {
			select {
			case now := <-ticker.C:
				Prune(ctx, repo, retention, now)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Prune deletes runs created more than retention before now.
func Prune(ctx context.Context, repo store.Repository, retention time.Duration, now time.Time) int64 {
	deleted, err := repo.DeleteRunsBefore(ctx, now.Add(-retention))
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Retention sweep interrupted", "error", err)
			return 0
		}
		slog.Error("Retention worker failed to prune runs", "error", err)
		return 0
	}
	if deleted > 0 {
		slog.Info("Retention worker pruned runs", "count", deleted)
	}
	return deleted
}
