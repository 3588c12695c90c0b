package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/portablestew/key-commune/internal/config"
	"github.com/portablestew/key-commune/internal/database"
	"github.com/portablestew/key-commune/internal/stats"
)

// RunCleanStats manually triggers the statistics janitor's deletion pass,
// for operators who have disabled StatsAutoCleanup or want an out-of-band
// run after changing StatsRetentionDays.
func RunCleanStats(ctx context.Context, logger *slog.Logger) error {
	cfg := config.Load()

	db, err := database.Connect(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() { _ = db.Close() }()

	store := stats.NewStore(db)

	deleted, err := store.DeleteOlderThan(ctx, cfg.StatsRetentionDays)
	if err != nil {
		return fmt.Errorf("failed to clean statistics: %w", err)
	}

	logger.Info("statistics cleanup complete",
		slog.Int64("deleted", deleted),
		slog.Int("retention_days", cfg.StatsRetentionDays),
	)
	return nil
}
