package process

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robalyx/reactor/internal/database/types"
	"github.com/robalyx/reactor/internal/metrics"
	"github.com/robalyx/reactor/internal/quota"
	"github.com/robalyx/reactor/internal/reaction"
	"github.com/robalyx/reactor/internal/worker/core"
	"go.uber.org/zap"
)

// Reactor applies reactions on behalf of an actor.
type Reactor interface {
	React(ctx context.Context, actorID int64, target types.Target, requested int) (*reaction.Outcome, error)
}

// Queue is the pending post work-list.
type Queue interface {
	Drain(ctx context.Context) iter.Seq2[*types.PendingPost, error]
	MarkProcessed(ctx context.Context, post *types.PendingPost, applied int, ledgerID *int64) error
}

// Options configures the processing loop.
type Options struct {
	ActorID      int64
	Count        int
	PollInterval time.Duration
	ErrorBackoff time.Duration
	// RetryBackoff and RetryMax bound the per-post delay after a skip.
	RetryBackoff time.Duration
	RetryMax     time.Duration
}

// Stats summarizes one pass over the queue.
type Stats struct {
	Processed int
	Skipped   int
	Deferred  int
	Reactions int
}

// retryState tracks a skipped post until it is processed or leaves the queue.
type retryState struct {
	attempts int
	next     time.Time
	backoff  *backoff.ExponentialBackOff
}

// Worker reacts to queued channel posts.
type Worker struct {
	queue    Queue
	reactor  Reactor
	opts     Options
	retries  map[int64]*retryState
	metrics  *metrics.Accumulator
	reporter *core.StatusReporter
	logger   *zap.Logger
}

// New creates a processing worker. The reporter may be nil.
func New(
	queue Queue, reactor Reactor, opts Options, acc *metrics.Accumulator,
	reporter *core.StatusReporter, logger *zap.Logger,
) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = 10 * time.Second
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 30 * time.Second
	}
	if opts.RetryMax < opts.RetryBackoff {
		opts.RetryMax = max(30*time.Minute, opts.RetryBackoff)
	}

	return &Worker{
		queue:    queue,
		reactor:  reactor,
		opts:     opts,
		retries:  make(map[int64]*retryState),
		metrics:  acc,
		reporter: reporter,
		logger:   logger.Named("process_worker"),
	}
}

// Run polls the queue until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if w.reporter != nil {
		w.logger.Info("Process worker started", zap.String("workerID", w.reporter.GetWorkerID()))
		w.reporter.Start(ctx)
		defer w.reporter.Stop()
	}

	for {
		stats, err := w.ProcessPending(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := w.opts.PollInterval
		if err != nil {
			w.logger.Error("Error processing pending posts", zap.Error(err))
			w.setStatus(false, "Backing off after error", 0)
			delay = w.opts.ErrorBackoff
		} else {
			w.setStatus(true, "Idle", 100)
			if stats.Processed > 0 || stats.Skipped > 0 {
				w.logger.Info("Processed pending posts",
					zap.Int("processed", stats.Processed),
					zap.Int("skipped", stats.Skipped),
					zap.Int("deferred", stats.Deferred),
					zap.Int("reactions", stats.Reactions))
			}
		}

		if !core.Sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

// ProcessPending makes one pass over the queue. A failure on one post does
// not stop the pass; only queue errors abort it. A skipped post is retried
// with exponential backoff and deferred until its next attempt is due.
func (w *Worker) ProcessPending(ctx context.Context) (Stats, error) {
	var stats Stats

	now := time.Now()
	seen := make(map[int64]struct{})

	for post, err := range w.queue.Drain(ctx) {
		if err != nil {
			return stats, fmt.Errorf("failed to drain queue: %w", err)
		}

		seen[post.ID] = struct{}{}

		if state, ok := w.retries[post.ID]; ok && now.Before(state.next) {
			stats.Deferred++
			continue
		}

		w.setStatus(true, "Reacting to "+post.Target().String(), 50)

		skipped := stats.Skipped
		if err := w.processPost(ctx, post, &stats); err != nil {
			return stats, err
		}

		if stats.Skipped > skipped {
			w.deferPost(post.ID)
		} else {
			delete(w.retries, post.ID)
		}
	}

	// Posts no longer pending were processed elsewhere or purged
	for id := range w.retries {
		if _, ok := seen[id]; !ok {
			delete(w.retries, id)
		}
	}

	return stats, nil
}

func (w *Worker) deferPost(postID int64) {
	state, ok := w.retries[postID]
	if !ok {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = w.opts.RetryBackoff
		b.MaxInterval = w.opts.RetryMax
		b.MaxElapsedTime = 0
		b.Reset()

		state = &retryState{backoff: b}
		w.retries[postID] = state
	}

	state.attempts++
	delay := state.backoff.NextBackOff()
	state.next = time.Now().Add(delay)

	w.logger.Debug("Deferred pending post",
		zap.Int64("id", postID),
		zap.Int("attempts", state.attempts),
		zap.Duration("delay", delay))
}

func (w *Worker) processPost(ctx context.Context, post *types.PendingPost, stats *Stats) error {
	target := post.Target()
	logger := w.logger.With(zap.Int64("id", post.ID), zap.Stringer("target", target))

	outcome, err := w.reactor.React(ctx, w.opts.ActorID, target, w.opts.Count)

	switch {
	case err == nil && outcome.Applied > 0:
		if err := w.queue.MarkProcessed(ctx, post, outcome.Applied, outcome.LedgerID); err != nil {
			return fmt.Errorf("failed to mark post processed: %w", err)
		}

	case errors.Is(err, reaction.ErrLedgerAppend):
		// Reactions are live; do not apply them again
		logger.Warn("Marking post processed without ledger reference", zap.Error(err))
		if err := w.queue.MarkProcessed(ctx, post, outcome.Applied, nil); err != nil {
			return fmt.Errorf("failed to mark post processed: %w", err)
		}

	case err == nil:
		logger.Warn("No reactions applied, leaving post pending", zap.Int("failed", outcome.Failed))
		stats.Skipped++
		return nil

	case errors.Is(err, quota.ErrQuotaExceeded), errors.Is(err, quota.ErrTargetBusy):
		logger.Debug("Post skipped", zap.Error(err))
		stats.Skipped++
		return nil

	case ctx.Err() != nil:
		return ctx.Err()

	default:
		logger.Warn("Failed to react to post", zap.Error(err))
		stats.Skipped++
		return nil
	}

	stats.Processed++
	stats.Reactions += outcome.Applied
	w.metrics.IncPosts()

	return nil
}

func (w *Worker) setStatus(healthy bool, task string, progress int) {
	if w.reporter == nil {
		return
	}

	w.reporter.SetHealthy(healthy)
	w.reporter.UpdateStatus(task, progress)
}
