package commands

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCleanStats(t *testing.T) {
	t.Setenv("DATABASE_PATH", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, RunMigrate(discardLogger()))

	assert.NoError(t, RunCleanStats(context.Background(), discardLogger()))
}
