package commands

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunMigrate(t *testing.T) {
	t.Setenv("DATABASE_PATH", filepath.Join(t.TempDir(), "test.db"))

	assert.NoError(t, RunMigrate(discardLogger()))
}

func TestRunMigrate_IsIdempotent(t *testing.T) {
	t.Setenv("DATABASE_PATH", filepath.Join(t.TempDir(), "test.db"))

	assert.NoError(t, RunMigrate(discardLogger()))
	assert.NoError(t, RunMigrate(discardLogger()))
}
