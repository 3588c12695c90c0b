// Package janitor is the Statistics Janitor: a periodic background loop
// that deletes per-credential daily statistics past the retention window.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/portablestew/key-commune/internal/stats"
)

// Config holds the janitor's tunables.
type Config struct {
	RetentionDays          int
	CleanupIntervalMinutes int
}

// StatisticsDeleter is the subset of stats.Store the janitor depends on.
type StatisticsDeleter interface {
	DeleteOlderThan(ctx context.Context, days int) (int64, error)
}

// Janitor runs the periodic cleanup loop.
type Janitor struct {
	config Config
	store  StatisticsDeleter
	logger *slog.Logger
}

// New constructs a Janitor.
func New(config Config, store *stats.Store, logger *slog.Logger) *Janitor {
	return &Janitor{config: config, store: store, logger: logger}
}

// Run deletes expired statistics once at startup, then every
// CleanupIntervalMinutes until ctx is cancelled. It never returns an error;
// failures are logged and the loop continues.
func (j *Janitor) Run(ctx context.Context) {
	j.cleanupOnce(ctx)

	interval := time.Duration(j.config.CleanupIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if j.logger != nil {
				j.logger.Info("statistics janitor stopping")
			}
			return
		case <-ticker.C:
			j.cleanupOnce(ctx)
		}
	}
}

func (j *Janitor) cleanupOnce(ctx context.Context) {
	deleted, err := j.store.DeleteOlderThan(ctx, j.config.RetentionDays)
	if err != nil {
		if j.logger != nil {
			j.logger.Error("statistics cleanup failed", slog.Any("error", err))
		}
		return
	}
	if j.logger != nil {
		j.logger.Info("statistics cleanup complete",
			slog.Int64("deleted", deleted),
			slog.Int("retention_days", j.config.RetentionDays),
		)
	}
}
