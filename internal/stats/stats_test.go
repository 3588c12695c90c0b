package stats

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portablestew/key-commune/internal/database"
)

func setupStatsStore(t *testing.T) (*Store, *database.DB) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := database.Connect(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.RunMigrations(db.Writer))

	// daily_statistics has a foreign key to credentials; seed one row so
	// increments against credential id 1 satisfy the constraint.
	_, err = db.Writer.ExecContext(context.Background(),
		`INSERT INTO credentials (id, fingerprint, material, display, created_at, updated_at)
		 VALUES (1, 'fp', 'enc', 'disp', 0, 0)`)
	require.NoError(t, err)

	return NewStore(db), db
}

func TestStore_GetToday_DefaultsToZero(t *testing.T) {
	store, _ := setupStatsStore(t)

	rec, err := store.GetToday(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.CredentialID)
	assert.Zero(t, rec.CallCount)
	assert.Zero(t, rec.ThrottleCount)
}

func TestStore_IncrementCallCount_CreatesLazily(t *testing.T) {
	store, _ := setupStatsStore(t)
	ctx := context.Background()

	require.NoError(t, store.IncrementCallCount(ctx, 1, "10.0.0.0/24"))
	require.NoError(t, store.IncrementCallCount(ctx, 1, "10.0.0.0/24"))

	rec, err := store.GetToday(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.CallCount)
	assert.Equal(t, "10.0.0.0/24", rec.LastSubnet)
}

func TestStore_IncrementCallCount_Concurrent(t *testing.T) {
	store, _ := setupStatsStore(t)
	ctx := context.Background()

	const n = 25
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_ = store.IncrementCallCount(ctx, 1, "10.0.0.0/24")
		}()
	}
	wg.Wait()

	rec, err := store.GetToday(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, n, rec.CallCount, "no lost updates under concurrent increments")
}

func TestStore_IncrementThrottleCount(t *testing.T) {
	store, _ := setupStatsStore(t)
	ctx := context.Background()

	require.NoError(t, store.IncrementThrottleCount(ctx, 1))
	require.NoError(t, store.IncrementThrottleCount(ctx, 1))

	rec, err := store.GetToday(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.ThrottleCount)
}

func TestStore_GetAllForToday(t *testing.T) {
	store, db := setupStatsStore(t)
	ctx := context.Background()

	_, err := db.Writer.ExecContext(ctx,
		`INSERT INTO credentials (id, fingerprint, material, display, created_at, updated_at)
		 VALUES (2, 'fp2', 'enc', 'disp', 0, 0)`)
	require.NoError(t, err)

	require.NoError(t, store.IncrementCallCount(ctx, 1, "subnet-a"))
	require.NoError(t, store.IncrementCallCount(ctx, 2, "subnet-b"))

	all, err := store.GetAllForToday(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 1, all[1].CallCount)
	assert.Equal(t, 1, all[2].CallCount)
}

func TestStore_DeleteOlderThan(t *testing.T) {
	store, db := setupStatsStore(t)
	ctx := context.Background()

	_, err := db.Writer.ExecContext(ctx,
		`INSERT INTO daily_statistics (credential_id, date, call_count, throttle_count, last_subnet)
		 VALUES (1, '2000-01-01', 5, 1, '')`)
	require.NoError(t, err)

	require.NoError(t, store.IncrementCallCount(ctx, 1, "subnet"))

	deleted, err := store.DeleteOlderThan(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	rec, err := store.GetToday(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.CallCount, "today's row survives retention cutoff")
}

func TestStore_CascadeDeleteOnCredentialDelete(t *testing.T) {
	store, db := setupStatsStore(t)
	ctx := context.Background()

	require.NoError(t, store.IncrementCallCount(ctx, 1, "subnet"))

	_, err := db.Writer.ExecContext(ctx, `DELETE FROM credentials WHERE id = 1`)
	require.NoError(t, err)

	var count int
	require.NoError(t, db.Writer.QueryRowContext(ctx, `SELECT COUNT(*) FROM daily_statistics WHERE credential_id = 1`).Scan(&count))
	assert.Zero(t, count, "statistics rows cascade-delete with their credential")
}
