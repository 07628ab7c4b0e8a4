package dispatch_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/robalyx/reactor/internal/database/types"
	"github.com/robalyx/reactor/internal/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errAPI = errors.New("telegram: too many requests")

// fakeReactor records every call and fails the configured call numbers (1-based).
type fakeReactor struct {
	mu     sync.Mutex
	calls  [][]string
	failOn map[int]bool
	cancel context.CancelFunc
}

func (f *fakeReactor) SetReaction(_ context.Context, _ types.Target, symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, slices.Clone(symbols))
	if f.cancel != nil && len(f.calls) == 1 {
		f.cancel()
	}
	if f.failOn[len(f.calls)] {
		return errAPI
	}

	return nil
}

// noWait is a limiter that only honors cancellation.
type noWait struct{}

func (noWait) WaitForNextSlot(ctx context.Context) error {
	return ctx.Err()
}

func newDispatcher(t *testing.T, reactor dispatch.Reactor) *dispatch.Dispatcher {
	t.Helper()

	d, err := dispatch.New(reactor, noWait{}, dispatch.Options{Ceiling: 100, BatchSize: 10}, zaptest.NewLogger(t))
	require.NoError(t, err)

	return d
}

func TestPartition(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []int{10, 10, 3}, dispatch.Partition(23, 10))
	assert.Equal(t, []int{10}, dispatch.Partition(10, 10))
	assert.Equal(t, []int{5}, dispatch.Partition(5, 10))
	assert.Empty(t, dispatch.Partition(0, 10))
	assert.Empty(t, dispatch.Partition(-3, 10))
}

func TestDispatchPartialFailure(t *testing.T) {
	t.Parallel()

	reactor := &fakeReactor{failOn: map[int]bool{2: true}}
	target := types.Target{SurfaceID: 100, PostID: 7}

	result := newDispatcher(t, reactor).Dispatch(t.Context(), target, 23)

	require.Len(t, reactor.calls, 3)
	assert.Len(t, reactor.calls[0], 10)
	assert.Len(t, reactor.calls[1], 10)
	assert.Len(t, reactor.calls[2], 3)

	assert.Equal(t, 13, result.Applied)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 3, result.Batches)

	want := append(slices.Clone(reactor.calls[0]), reactor.calls[2]...)
	assert.Equal(t, want, result.Symbols)
}

func TestDispatchClampsToCeiling(t *testing.T) {
	t.Parallel()

	reactor := &fakeReactor{}

	result := newDispatcher(t, reactor).Dispatch(t.Context(), types.Target{SurfaceID: 1, PostID: 1}, 500)

	assert.Equal(t, 100, result.Requested)
	assert.Equal(t, 100, result.Applied)
	assert.Len(t, reactor.calls, 10)
}

func TestDispatchBatchesHaveDistinctSymbols(t *testing.T) {
	t.Parallel()

	reactor := &fakeReactor{}
	newDispatcher(t, reactor).Dispatch(t.Context(), types.Target{SurfaceID: 1, PostID: 2}, 100)

	for i, batch := range reactor.calls {
		assert.LessOrEqual(t, len(batch), 10)

		seen := make(map[string]struct{}, len(batch))
		for _, symbol := range batch {
			_, dup := seen[symbol]
			assert.False(t, dup, "batch %d repeats %s", i, symbol)
			seen[symbol] = struct{}{}

			assert.Contains(t, dispatch.DefaultPalette, symbol)
		}
	}
}

func TestDispatchAllBatchesFail(t *testing.T) {
	t.Parallel()

	reactor := &fakeReactor{failOn: map[int]bool{1: true, 2: true}}

	result := newDispatcher(t, reactor).Dispatch(t.Context(), types.Target{SurfaceID: 1, PostID: 3}, 15)

	assert.Zero(t, result.Applied)
	assert.Empty(t, result.Symbols)
	assert.Equal(t, 2, result.Failed)
}

func TestDispatchStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	reactor := &fakeReactor{cancel: cancel}

	result := newDispatcher(t, reactor).Dispatch(ctx, types.Target{SurfaceID: 1, PostID: 4}, 30)

	assert.Len(t, reactor.calls, 1)
	assert.Equal(t, 10, result.Applied)
}

func TestNewRejectsOversizedBatch(t *testing.T) {
	t.Parallel()

	_, err := dispatch.New(&fakeReactor{}, noWait{}, dispatch.Options{
		Ceiling:   100,
		BatchSize: 3,
		Palette:   []string{"👍", "🔥", "👍"},
	}, zaptest.NewLogger(t))
	require.ErrorIs(t, err, dispatch.ErrBatchExceedsPalette)

	_, err = dispatch.New(&fakeReactor{}, noWait{}, dispatch.Options{Ceiling: 100, BatchSize: 21}, zaptest.NewLogger(t))
	require.ErrorIs(t, err, dispatch.ErrBatchExceedsPalette)

	_, err = dispatch.New(&fakeReactor{}, noWait{}, dispatch.Options{Ceiling: 0, BatchSize: 10}, zaptest.NewLogger(t))
	require.ErrorIs(t, err, dispatch.ErrInvalidOptions)
}
