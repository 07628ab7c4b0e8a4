package purge_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/robalyx/reactor/internal/database/sqlite"
	"github.com/robalyx/reactor/internal/database/types"
	"github.com/robalyx/reactor/internal/setup/config"
	"github.com/robalyx/reactor/internal/worker/purge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPurgeOnceDeletesInBatches(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	store, err := sqlite.Open(ctx, &config.SQLite{
		Path: filepath.Join(t.TempDir(), "purge.db"),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Channels().Register(ctx, &types.ManagedChannel{
		ID: -100, Title: "news", AutoReact: true, RegisteredBy: 1, RegisteredAt: time.Now(),
	}))

	now := time.Now()
	stale := now.Add(-8 * 24 * time.Hour)

	for i := range int64(5) {
		_, err := store.Queue().Enqueue(ctx, types.Target{SurfaceID: -100, PostID: i + 1}, stale)
		require.NoError(t, err)
	}
	_, err = store.Queue().Enqueue(ctx, types.Target{SurfaceID: -100, PostID: 42}, now)
	require.NoError(t, err)

	// Processed state does not protect a stale item
	pending, err := store.Queue().Pending(ctx, types.Cursor{}, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	_, err = store.Queue().MarkProcessed(ctx, pending[0].ID, 3, nil)
	require.NoError(t, err)

	_, err = store.Ledger().Append(ctx, &types.ReactionEvent{
		ActorID: 1, SurfaceID: -100, PostID: 1, Symbols: []string{"👍", "🔥", "🎉"},
		AppliedCount: 3, AppliedAt: stale, Active: true,
	})
	require.NoError(t, err)

	worker := purge.New(store.Queue(), purge.Options{
		Retention: 7 * 24 * time.Hour,
		BatchSize: 2,
	}, nil, zaptest.NewLogger(t))

	deleted, err := worker.PurgeOnce(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)

	deleted, err = worker.PurgeOnce(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	total, err := store.Ledger().TotalApplied(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	remaining, err := store.Queue().Pending(ctx, types.Cursor{}, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, int64(42), remaining[0].PostID)
}

type failingStore struct {
	calls int
}

func (f *failingStore) PurgeOlderThan(context.Context, time.Time, int) (int, error) {
	f.calls++
	if f.calls == 1 {
		return 10, nil
	}
	return 0, errors.New("database is locked")
}

func TestPurgeOnceReportsPartialProgress(t *testing.T) {
	t.Parallel()

	store := &failingStore{}
	worker := purge.New(store, purge.Options{BatchSize: 10}, nil, zaptest.NewLogger(t))

	deleted, err := worker.PurgeOnce(t.Context(), time.Now())
	require.Error(t, err)
	assert.Equal(t, 10, deleted)
	assert.Equal(t, 2, store.calls)
}

type countingStore struct {
	cutoffs chan time.Time
}

func (c *countingStore) PurgeOlderThan(_ context.Context, cutoff time.Time, _ int) (int, error) {
	select {
	case c.cutoffs <- cutoff:
	default:
	}
	return 0, nil
}

func TestRunPurgesOnInterval(t *testing.T) {
	t.Parallel()

	store := &countingStore{cutoffs: make(chan time.Time, 8)}
	worker := purge.New(store, purge.Options{
		Interval:  5 * time.Millisecond,
		Retention: time.Hour,
	}, nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	for range 2 {
		select {
		case cutoff := <-store.cutoffs:
			assert.WithinDuration(t, time.Now().Add(-time.Hour), cutoff, time.Minute)
		case <-time.After(2 * time.Second):
			t.Fatal("purge did not run")
		}
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
