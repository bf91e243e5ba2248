package store

import (
	"context"
	"log/slog"
	"time"
)

// RunSweeper periodically drops idle keys from s until ctx is done.
func RunSweeper(ctx context.Context, s *InMemoryBucketStore, window, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			removed := s.Sweep(window)
			logger.Debug("rate limit sweep completed",
				"keys_removed", removed,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		case <-ctx.Done():
			logger.Info("rate limit sweeper stopping", "reason", ctx.Err())
			return nil
		}
	}
}
