package intake_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/robalyx/reactor/internal/database/sqlite"
	"github.com/robalyx/reactor/internal/database/types"
	"github.com/robalyx/reactor/internal/intake"
	"github.com/robalyx/reactor/internal/setup/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newStore(t *testing.T) *sqlite.Client {
	t.Helper()

	client, err := sqlite.Open(t.Context(), &config.SQLite{
		Path: filepath.Join(t.TempDir(), "intake.db"),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Channels().Register(t.Context(), &types.ManagedChannel{
		ID: -100, Title: "news", AutoReact: true, RegisteredBy: 1, RegisteredAt: time.Now(),
	}))

	return client
}

func TestEnqueueIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	queue := intake.NewQueue(store.Queue(), 10, zaptest.NewLogger(t))
	target := types.Target{SurfaceID: -100, PostID: 1}

	inserted, err := queue.Enqueue(t.Context(), target)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = queue.Enqueue(t.Context(), target)
	require.NoError(t, err)
	assert.False(t, inserted)

	count := 0
	for post, err := range queue.Drain(t.Context()) {
		require.NoError(t, err)
		assert.Equal(t, target, post.Target())
		count++
	}
	assert.Equal(t, 1, count)
}

func TestDrainPagesInDiscoveryOrder(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	queue := intake.NewQueue(store.Queue(), 2, zaptest.NewLogger(t))

	for i := range int64(5) {
		_, err := queue.Enqueue(t.Context(), types.Target{SurfaceID: -100, PostID: i + 1})
		require.NoError(t, err)
	}

	var seen []int64
	for post, err := range queue.Drain(t.Context()) {
		require.NoError(t, err)
		seen = append(seen, post.PostID)

		// Processing while draining must not disturb the cursor.
		require.NoError(t, queue.MarkProcessed(t.Context(), post, 10, nil))
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, seen)

	for _, err := range queue.Drain(t.Context()) {
		require.NoError(t, err)
		t.Fatal("expected no pending posts")
	}
}

func TestDrainStopsEarly(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	queue := intake.NewQueue(store.Queue(), 2, zaptest.NewLogger(t))

	for i := range int64(4) {
		_, err := queue.Enqueue(t.Context(), types.Target{SurfaceID: -100, PostID: i + 1})
		require.NoError(t, err)
	}

	count := 0
	for range queue.Drain(t.Context()) {
		count++
		if count == 3 {
			break
		}
	}
	assert.Equal(t, 3, count)
}

func TestDrainSkipsDisabledChannels(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	queue := intake.NewQueue(store.Queue(), 10, zaptest.NewLogger(t))

	_, err := queue.Enqueue(t.Context(), types.Target{SurfaceID: -100, PostID: 1})
	require.NoError(t, err)

	_, err = store.Channels().SetAutoReact(t.Context(), -100, false)
	require.NoError(t, err)

	for range queue.Drain(t.Context()) {
		t.Fatal("disabled channel posts must not be drained")
	}
}
