package audit

// retention.go runs the command log purge in the background.
//
// The job runs once at start and then every CheckInterval. A failed purge is
// logged and retried on the next tick; it never stops the server.

import (
	"context"
	"log/slog"
	"time"
)

// RetentionConfig controls the purge job.
type RetentionConfig struct {
	RetentionDays int           // Entries older than this are deleted (default: 30)
	CheckInterval time.Duration // How often to run (default: 24h)
}

func (c RetentionConfig) withDefaults() RetentionConfig {
	if c.RetentionDays <= 0 {
		c.RetentionDays = 30
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 24 * time.Hour
	}
	return c
}

// RunRetention purges old entries until ctx is cancelled.
func RunRetention(ctx context.Context, p Purger, cfg RetentionConfig) {
	cfg = cfg.withDefaults()
	slog.Info("command log retention started",
		"retention_days", cfg.RetentionDays,
		"check_interval", cfg.CheckInterval.String(),
	)

	purgeOnce(ctx, p, cfg, time.Now())

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("command log retention stopped")
			return
		case now := <-ticker.C:
			purgeOnce(ctx, p, cfg, now)
		}
	}
}

func purgeOnce(ctx context.Context, p Purger, cfg RetentionConfig, now time.Time) {
	start := time.Now()
	cutoff := now.AddDate(0, 0, -cfg.RetentionDays)

	purged, err := p.Purge(ctx, cutoff)
	if err != nil {
		slog.Error("command log purge failed", "error", err)
		return
	}
	slog.Info("purged command log entries",
		"entries_purged", purged,
		"cutoff", cutoff.Format(time.RFC3339),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
