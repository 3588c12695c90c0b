// Package commands contains the CLI command implementations for key-commune.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/portablestew/key-commune/internal/app"
	"github.com/portablestew/key-commune/internal/config"
)

// RunServer starts the proxy, wiring every domain component through the DI
// container and blocking until SIGINT/SIGTERM or a fatal server error.
// Graceful shutdown is bounded by ServerDrainSeconds.
func RunServer(ctx context.Context, version string) error {
	cfg := config.Load()
	gin.SetMode(cfg.GetGinMode())

	container, err := app.NewContainer(cfg)
	if err != nil {
		return fmt.Errorf("failed to assemble application: %w", err)
	}

	logger := container.Logger()
	logger.Info("starting key-commune", slog.String("version", version), slog.String("provider", cfg.ServerProvider))

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := container.Run(ctx); err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	return nil
}
