package membership_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"
	"github.com/robalyx/reactor/internal/database/types"
	"github.com/robalyx/reactor/internal/membership"
	"github.com/robalyx/reactor/internal/setup/config"
	"github.com/robalyx/reactor/internal/telegram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var required = []config.RequiredChannel{
	{Username: "@one", Title: "One"},
	{Username: "@two", Title: "Two"},
}

type fakeLookup struct {
	statuses map[string]telegram.MemberStatus
	err      error
	calls    atomic.Int32
	delay    time.Duration
}

func (f *fakeLookup) MemberStatus(_ context.Context, channel string, _ int64) (telegram.MemberStatus, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return telegram.MemberUnknown, f.err
	}
	return f.statuses[channel], nil
}

type fakeActors struct {
	mu       sync.Mutex
	actors   map[int64]*types.Actor
	verified map[int64]time.Time
}

func newFakeActors() *fakeActors {
	return &fakeActors{actors: map[int64]*types.Actor{}, verified: map[int64]time.Time{}}
}

func (f *fakeActors) Get(_ context.Context, id int64) (*types.Actor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	actor, ok := f.actors[id]
	if !ok {
		return nil, types.ErrActorNotFound
	}
	return actor, nil
}

func (f *fakeActors) MarkVerified(_ context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.verified[id] = at
	return nil
}

func newCache(t *testing.T) rueidis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return client
}

func TestCheckStatuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		statuses map[string]telegram.MemberStatus
		want     bool
	}{
		{
			name:     "joined both",
			statuses: map[string]telegram.MemberStatus{"@one": telegram.MemberJoined, "@two": telegram.MemberJoined},
			want:     true,
		},
		{
			name:     "left one",
			statuses: map[string]telegram.MemberStatus{"@one": telegram.MemberJoined, "@two": telegram.MemberLeft},
			want:     false,
		},
		{
			name:     "kicked",
			statuses: map[string]telegram.MemberStatus{"@one": telegram.MemberKicked, "@two": telegram.MemberJoined},
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			lookup := &fakeLookup{statuses: tt.statuses}
			verifier := membership.NewVerifier(lookup, newFakeActors(), nil,
				membership.Options{Channels: required}, zaptest.NewLogger(t))

			joined, err := verifier.Check(t.Context(), 7)
			require.NoError(t, err)
			assert.Equal(t, tt.want, joined)
		})
	}
}

func TestCheckFailsClosed(t *testing.T) {
	t.Parallel()

	lookup := &fakeLookup{err: errors.New("chat not found")}
	verifier := membership.NewVerifier(lookup, newFakeActors(), newCache(t),
		membership.Options{Channels: required, CacheTTL: time.Minute}, zaptest.NewLogger(t))

	joined, err := verifier.Check(t.Context(), 7)
	require.Error(t, err)
	assert.False(t, joined)

	// Errors are not cached
	lookup.err = nil
	lookup.statuses = map[string]telegram.MemberStatus{"@one": telegram.MemberJoined, "@two": telegram.MemberJoined}

	joined, err = verifier.Check(t.Context(), 7)
	require.NoError(t, err)
	assert.True(t, joined)
}

func TestCheckWithoutRequiredChannels(t *testing.T) {
	t.Parallel()

	lookup := &fakeLookup{}
	verifier := membership.NewVerifier(lookup, newFakeActors(), nil, membership.Options{}, zaptest.NewLogger(t))

	joined, err := verifier.Check(t.Context(), 7)
	require.NoError(t, err)
	assert.True(t, joined)
	assert.Zero(t, lookup.calls.Load())
}

func TestCheckUsesCache(t *testing.T) {
	t.Parallel()

	lookup := &fakeLookup{statuses: map[string]telegram.MemberStatus{
		"@one": telegram.MemberJoined, "@two": telegram.MemberLeft,
	}}
	verifier := membership.NewVerifier(lookup, newFakeActors(), newCache(t),
		membership.Options{Channels: required, CacheTTL: time.Minute}, zaptest.NewLogger(t))

	joined, err := verifier.Check(t.Context(), 7)
	require.NoError(t, err)
	assert.False(t, joined)
	assert.Equal(t, int32(2), lookup.calls.Load())

	joined, err = verifier.Check(t.Context(), 7)
	require.NoError(t, err)
	assert.False(t, joined)
	assert.Equal(t, int32(2), lookup.calls.Load())

	// The user joined and asked to be checked again
	lookup.statuses["@two"] = telegram.MemberJoined
	verifier.Invalidate(t.Context(), 7)

	joined, err = verifier.Check(t.Context(), 7)
	require.NoError(t, err)
	assert.True(t, joined)
	assert.Equal(t, int32(4), lookup.calls.Load())
}

func TestCheckCollapsesConcurrentCalls(t *testing.T) {
	t.Parallel()

	lookup := &fakeLookup{
		statuses: map[string]telegram.MemberStatus{"@one": telegram.MemberJoined, "@two": telegram.MemberJoined},
		delay:    50 * time.Millisecond,
	}
	verifier := membership.NewVerifier(lookup, newFakeActors(), nil,
		membership.Options{Channels: required}, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			joined, err := verifier.Check(t.Context(), 7)
			assert.NoError(t, err)
			assert.True(t, joined)
		}()
	}
	wg.Wait()

	assert.Less(t, lookup.calls.Load(), int32(10))
}

func TestRequireReverifiesStaleActors(t *testing.T) {
	t.Parallel()

	recent := time.Now().Add(-time.Hour)
	stale := time.Now().Add(-48 * time.Hour)

	actors := newFakeActors()
	actors.actors[1] = &types.Actor{ID: 1, VerifiedAt: &recent}
	actors.actors[2] = &types.Actor{ID: 2, VerifiedAt: &stale}
	actors.actors[3] = &types.Actor{ID: 3}

	lookup := &fakeLookup{statuses: map[string]telegram.MemberStatus{
		"@one": telegram.MemberJoined, "@two": telegram.MemberJoined,
	}}
	verifier := membership.NewVerifier(lookup, actors, nil,
		membership.Options{Channels: required, Reverify: 24 * time.Hour}, zaptest.NewLogger(t))

	ok, err := verifier.Require(t.Context(), 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, lookup.calls.Load())

	for _, id := range []int64{2, 3, 4} {
		ok, err = verifier.Require(t.Context(), id)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Contains(t, actors.verified, id)
	}

	lookup.statuses["@one"] = telegram.MemberLeft
	actors.actors[5] = &types.Actor{ID: 5}

	ok, err = verifier.Require(t.Context(), 5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotContains(t, actors.verified, int64(5))
}
