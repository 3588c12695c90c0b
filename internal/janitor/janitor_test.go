package janitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeDeleter struct {
	calls atomic.Int32
	err   error
}

func (f *fakeDeleter) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	f.calls.Add(1)
	if f.err != nil {
		return 0, f.err
	}
	return int64(days), nil
}

func TestRun_CleansUpOnceAtStartup(t *testing.T) {
	deleter := &fakeDeleter{}
	j := New(Config{RetentionDays: 30, CleanupIntervalMinutes: 60}, nil, nil)
	j.store = deleter

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	j.Run(ctx)
	assert.GreaterOrEqual(t, deleter.calls.Load(), int32(1))
}

func TestRun_StopsOnContextCancellation(t *testing.T) {
	deleter := &fakeDeleter{}
	j := New(Config{RetentionDays: 30, CleanupIntervalMinutes: 1}, nil, nil)
	j.store = deleter

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestCleanupOnce_LogsErrorWithoutPanicking(t *testing.T) {
	deleter := &fakeDeleter{err: errors.New("boom")}
	j := New(Config{RetentionDays: 30}, nil, nil)
	j.store = deleter

	assert.NotPanics(t, func() { j.cleanupOnce(context.Background()) })
	assert.Equal(t, int32(1), deleter.calls.Load())
}
