package commands

import (
	"fmt"
	"log/slog"

	"github.com/portablestew/key-commune/internal/config"
	"github.com/portablestew/key-commune/internal/database"
)

// RunMigrate applies all pending schema migrations to the configured SQLite
// database file, creating it if it does not already exist. It is safe to run
// on every deploy: already-applied migrations are skipped.
func RunMigrate(logger *slog.Logger) error {
	cfg := config.Load()

	logger.Info("running database migrations", slog.String("path", cfg.DatabasePath))

	db, err := database.Connect(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := database.RunMigrations(db.Writer); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("migrations completed successfully")
	return nil
}
