package quota_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"
	"github.com/robalyx/reactor/internal/database/types"
	"github.com/robalyx/reactor/internal/quota"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupLock(t *testing.T, wait time.Duration) (*quota.TargetLock, *miniredis.Miniredis) {
	t.Helper()
	return setupLockTTL(t, time.Minute, wait)
}

func setupLockTTL(t *testing.T, ttl, wait time.Duration) (*quota.TargetLock, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return quota.NewTargetLock(client, ttl, wait, zaptest.NewLogger(t)), mr
}

func TestTargetLockExclusive(t *testing.T) {
	t.Parallel()

	lock, mr := setupLock(t, 200*time.Millisecond)
	target := types.Target{SurfaceID: 100, PostID: 7}

	_, release, err := lock.Acquire(t.Context(), 42, target)
	require.NoError(t, err)
	assert.True(t, mr.Exists("reaction_lock:42:100/7"))

	_, _, err = lock.Acquire(t.Context(), 42, target)
	require.ErrorIs(t, err, quota.ErrTargetBusy)

	// A different actor on the same post is independent.
	_, other, err := lock.Acquire(t.Context(), 43, target)
	require.NoError(t, err)
	other()

	release()
	assert.False(t, mr.Exists("reaction_lock:42:100/7"))

	_, again, err := lock.Acquire(t.Context(), 42, target)
	require.NoError(t, err)
	again()
}

func TestTargetLockReleaseKeepsForeignToken(t *testing.T) {
	t.Parallel()

	lock, mr := setupLock(t, 200*time.Millisecond)
	target := types.Target{SurfaceID: 1, PostID: 2}

	_, release, err := lock.Acquire(t.Context(), 5, target)
	require.NoError(t, err)

	// Simulate expiry and takeover by another holder.
	require.NoError(t, mr.Set("reaction_lock:5:1/2", "someone-else"))

	release()

	value, err := mr.Get("reaction_lock:5:1/2")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", value)
}

func TestTargetLockWaitsForRelease(t *testing.T) {
	t.Parallel()

	lock, _ := setupLock(t, 2*time.Second)
	target := types.Target{SurfaceID: 3, PostID: 4}

	_, release, err := lock.Acquire(t.Context(), 1, target)
	require.NoError(t, err)

	time.AfterFunc(100*time.Millisecond, release)

	_, second, err := lock.Acquire(t.Context(), 1, target)
	require.NoError(t, err)
	second()
}

func TestTargetLockRenewsWhileHeld(t *testing.T) {
	t.Parallel()

	lock, mr := setupLockTTL(t, 300*time.Millisecond, 200*time.Millisecond)
	target := types.Target{SurfaceID: 6, PostID: 6}

	held, release, err := lock.Acquire(t.Context(), 1, target)
	require.NoError(t, err)
	defer release()

	// Most of the TTL passes without the holder finishing.
	mr.FastForward(250 * time.Millisecond)
	require.Less(t, mr.TTL("reaction_lock:1:6/6"), 100*time.Millisecond)

	assert.Eventually(t, func() bool {
		return mr.TTL("reaction_lock:1:6/6") > 200*time.Millisecond
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, held.Err())
}

func TestTargetLockCancelsHeldContextWhenLost(t *testing.T) {
	t.Parallel()

	lock, mr := setupLockTTL(t, 150*time.Millisecond, 200*time.Millisecond)
	target := types.Target{SurfaceID: 8, PostID: 8}

	held, release, err := lock.Acquire(t.Context(), 1, target)
	require.NoError(t, err)
	defer release()

	require.NoError(t, mr.Set("reaction_lock:1:8/8", "someone-else"))

	select {
	case <-held.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("held context was not canceled")
	}
	require.ErrorIs(t, context.Cause(held), quota.ErrLockLost)
}

func TestTargetLockSerializesInProcessAfterExpiry(t *testing.T) {
	t.Parallel()

	lock, mr := setupLockTTL(t, time.Minute, 100*time.Millisecond)
	target := types.Target{SurfaceID: 9, PostID: 9}

	_, release, err := lock.Acquire(t.Context(), 1, target)
	require.NoError(t, err)
	defer release()

	// The Redis key is gone but the holder in this process is still working.
	mr.FastForward(2 * time.Minute)
	require.False(t, mr.Exists("reaction_lock:1:9/9"))

	_, _, err = lock.Acquire(t.Context(), 1, target)
	require.ErrorIs(t, err, quota.ErrTargetBusy)
}

func TestTargetLockReleaseCancelsHeldContext(t *testing.T) {
	t.Parallel()

	lock, _ := setupLock(t, 100*time.Millisecond)

	held, release, err := lock.Acquire(t.Context(), 1, types.Target{SurfaceID: 2, PostID: 2})
	require.NoError(t, err)

	release()
	release()

	require.ErrorIs(t, held.Err(), context.Canceled)
}
