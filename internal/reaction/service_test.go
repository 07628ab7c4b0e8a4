package reaction_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"
	"github.com/robalyx/reactor/internal/database/types"
	"github.com/robalyx/reactor/internal/dispatch"
	"github.com/robalyx/reactor/internal/metrics"
	"github.com/robalyx/reactor/internal/quota"
	"github.com/robalyx/reactor/internal/reaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errAPI = errors.New("telegram unavailable")

// memoryLedger is an in-memory ledger that also answers window usage.
type memoryLedger struct {
	mu        sync.Mutex
	events    []*types.ReactionEvent
	appendErr error
}

func (l *memoryLedger) Append(_ context.Context, event *types.ReactionEvent) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.appendErr != nil {
		return 0, l.appendErr
	}

	event.ID = int64(len(l.events) + 1)
	l.events = append(l.events, event)

	return event.ID, nil
}

func (l *memoryLedger) UsedInWindow(_ context.Context, actorID int64, target types.Target, since time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	used := 0
	for _, e := range l.events {
		if e.ActorID == actorID && e.Target() == target && e.Active && !e.AppliedAt.Before(since) {
			used += e.AppliedCount
		}
	}

	return used, nil
}

// noActors treats every actor as unknown.
type noActors struct{}

func (noActors) Get(context.Context, int64) (*types.Actor, error) {
	return nil, types.ErrActorNotFound
}

func (noActors) ClearExpiredSubscription(context.Context, int64, time.Time) (bool, error) {
	return false, nil
}

// fakeReactor fails every call while failing is set.
type fakeReactor struct {
	mu      sync.Mutex
	failing bool
	calls   int
}

func (f *fakeReactor) SetReaction(context.Context, types.Target, []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.failing {
		return errAPI
	}

	return nil
}

type noWait struct{}

func (noWait) WaitForNextSlot(ctx context.Context) error { return ctx.Err() }

// mutexLocker serializes every request in process.
type mutexLocker struct {
	mu sync.Mutex
}

func (l *mutexLocker) Acquire(ctx context.Context, _ int64, _ types.Target) (context.Context, func(), error) {
	l.mu.Lock()
	return ctx, l.mu.Unlock, nil
}

// hookReactor runs onFirst during the first SetReaction call.
type hookReactor struct {
	once    sync.Once
	onFirst func()
}

func (h *hookReactor) SetReaction(context.Context, types.Target, []string) error {
	h.once.Do(h.onFirst)
	return nil
}

type fixture struct {
	service *reaction.Service
	ledger  *memoryLedger
	reactor *fakeReactor
	metrics *metrics.Accumulator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := zaptest.NewLogger(t)
	ledger := &memoryLedger{}
	reactor := &fakeReactor{}
	acc := metrics.NewAccumulator()

	resolver := quota.NewResolver(noActors{}, []int64{1}, 3000, 30, logger)
	controller := quota.NewController(resolver, ledger, 5*time.Minute, logger)

	dispatcher, err := dispatch.New(reactor, noWait{}, dispatch.Options{Ceiling: 100, BatchSize: 10}, logger)
	require.NoError(t, err)

	return &fixture{
		service: reaction.NewService(controller, dispatcher, &mutexLocker{}, ledger, acc, logger),
		ledger:  ledger,
		reactor: reactor,
		metrics: acc,
	}
}

func TestReactRecordsAndDenies(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	target := types.Target{SurfaceID: 100, PostID: 7}

	outcome, err := f.service.React(t.Context(), 42, target, 20)
	require.NoError(t, err)
	assert.Equal(t, 20, outcome.Applied)
	assert.Len(t, outcome.Symbols, 20)
	require.NotNil(t, outcome.LedgerID)
	assert.Equal(t, 20, outcome.UsedAfter())

	outcome, err = f.service.React(t.Context(), 42, target, 15)
	var denied *quota.DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, 10, denied.Remaining())
	assert.Equal(t, 20, denied.Used)
	assert.Equal(t, 15, denied.Requested)
	assert.False(t, outcome.Decision.Allowed)

	require.Len(t, f.ledger.events, 1)
	assert.Equal(t, int64(20), f.metrics.TotalReactions())
}

func TestReactAdminClampedToCeiling(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	outcome, err := f.service.React(t.Context(), 1, types.Target{SurfaceID: 1, PostID: 1}, 500)
	require.NoError(t, err)
	assert.Equal(t, 100, outcome.Applied)
	assert.Equal(t, 100, outcome.Decision.Requested)
	assert.Equal(t, 10, f.reactor.calls)
}

func TestReactNothingAppliedWritesNoEvent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.reactor.failing = true

	outcome, err := f.service.React(t.Context(), 42, types.Target{SurfaceID: 1, PostID: 2}, 10)
	require.NoError(t, err)
	assert.Zero(t, outcome.Applied)
	assert.Nil(t, outcome.LedgerID)
	assert.Empty(t, f.ledger.events)
	assert.Zero(t, f.metrics.TotalReactions())
}

func TestReactLedgerFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.ledger.appendErr = errors.New("disk full")

	outcome, err := f.service.React(t.Context(), 42, types.Target{SurfaceID: 1, PostID: 3}, 5)
	require.ErrorIs(t, err, reaction.ErrLedgerAppend)
	require.NotNil(t, outcome)
	assert.Equal(t, 5, outcome.Applied)
	assert.Nil(t, outcome.LedgerID)
}

func TestReactRejectsInvalidCount(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.service.React(t.Context(), 42, types.Target{SurfaceID: 1, PostID: 4}, 0)
	require.ErrorIs(t, err, quota.ErrInvalidCount)
	assert.Zero(t, f.reactor.calls)
}

func TestReactConcurrentRequestsStayWithinBudget(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	target := types.Target{SurfaceID: 9, PostID: 9}

	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.service.React(t.Context(), 42, target, 10)
		}()
	}
	wg.Wait()

	used, err := f.ledger.UsedInWindow(t.Context(), 42, target, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 30, used)
}

func TestReactStaysWithinBudgetWhenLockKeyExpires(t *testing.T) {
	t.Parallel()

	logger := zaptest.NewLogger(t)
	mr := miniredis.RunT(t)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	ledger := &memoryLedger{}
	resolver := quota.NewResolver(noActors{}, []int64{1}, 3000, 30, logger)
	controller := quota.NewController(resolver, ledger, 5*time.Minute, logger)
	lock := quota.NewTargetLock(client, time.Minute, 2*time.Second, logger)
	target := types.Target{SurfaceID: 100, PostID: 7}

	var (
		service   *reaction.Service
		secondErr error
		wg        sync.WaitGroup
	)

	// The first dispatch outlives the redis key, then a second request races in
	reactor := &hookReactor{onFirst: func() {
		mr.FastForward(2 * time.Minute)

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, secondErr = service.React(context.WithoutCancel(t.Context()), 42, target, 20)
		}()
		time.Sleep(50 * time.Millisecond)
	}}

	dispatcher, err := dispatch.New(reactor, noWait{}, dispatch.Options{Ceiling: 100, BatchSize: 10}, logger)
	require.NoError(t, err)
	service = reaction.NewService(controller, dispatcher, lock, ledger, metrics.NewAccumulator(), logger)

	outcome, err := service.React(t.Context(), 42, target, 20)
	require.NoError(t, err)
	assert.Equal(t, 20, outcome.Applied)

	wg.Wait()

	var denied *quota.DeniedError
	if !errors.As(secondErr, &denied) {
		require.ErrorIs(t, secondErr, quota.ErrTargetBusy)
	}

	used, err := ledger.UsedInWindow(t.Context(), 42, target, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 20, used)
}
