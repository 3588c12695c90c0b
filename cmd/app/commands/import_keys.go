package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/portablestew/key-commune/internal/config"
	"github.com/portablestew/key-commune/internal/credential"
	"github.com/portablestew/key-commune/internal/cryptoutil"
	"github.com/portablestew/key-commune/internal/database"
	"github.com/portablestew/key-commune/internal/validation"
)

// RunImportKeys reads one credential per line from r ("material" or
// "material,display") and enrolls each into the pool, encrypting material
// at rest with the process's configured cipher. Bulk provisioning workflows
// (rotation schedules, source-of-truth sync) are out of scope; this is the
// bare interface for seeding a pool by hand.
func RunImportKeys(ctx context.Context, logger *slog.Logger, r io.Reader) error {
	cfg := config.Load()

	db, err := database.Connect(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := database.RunMigrations(db.Writer); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	key, err := cryptoutil.LoadOrGenerateKey(cfg.EncryptionKey, cfg.EncryptionKeyFilePath)
	if err != nil {
		return fmt.Errorf("failed to load encryption key: %w", err)
	}
	cipher, err := cryptoutil.NewAESGCM(key)
	if err != nil {
		return fmt.Errorf("failed to initialize cipher: %w", err)
	}

	store := credential.NewStore(db, cipher)

	scanner := bufio.NewScanner(r)
	imported, skipped := 0, 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		material, display, _ := strings.Cut(line, ",")
		material = strings.TrimSpace(material)
		display = strings.TrimSpace(display)

		if err := validation.ValidateForImport(material); err != nil {
			logger.Warn("skipping invalid credential", slog.String("reason", err.Error()))
			skipped++
			continue
		}

		if _, err := store.Create(ctx, material, display); err != nil {
			logger.Warn("skipping credential that failed to import", slog.String("reason", err.Error()))
			skipped++
			continue
		}
		imported++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read credentials: %w", err)
	}

	logger.Info("import complete", slog.Int("imported", imported), slog.Int("skipped", skipped))
	return nil
}
