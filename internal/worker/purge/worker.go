package purge

import (
	"context"
	"fmt"
	"time"

	"github.com/robalyx/reactor/internal/worker/core"
	"go.uber.org/zap"
)

// Store deletes stale queue rows.
type Store interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// Options configures the housekeeping loop.
type Options struct {
	Interval  time.Duration
	Retention time.Duration
	BatchSize int
}

// Worker removes queue items past their retention. The reaction ledger is
// never touched.
type Worker struct {
	store    Store
	opts     Options
	reporter *core.StatusReporter
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a housekeeping worker. The reporter may be nil.
func New(store Store, opts Options, reporter *core.StatusReporter, logger *zap.Logger) *Worker {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Retention <= 0 {
		opts.Retention = 7 * 24 * time.Hour
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}

	return &Worker{
		store:    store,
		opts:     opts,
		reporter: reporter,
		logger:   logger.Named("purge_worker"),
		now:      time.Now,
	}
}

// Run purges on every interval until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if w.reporter != nil {
		w.logger.Info("Purge worker started", zap.String("workerID", w.reporter.GetWorkerID()))
		w.reporter.Start(ctx)
		defer w.reporter.Stop()
	}

	for {
		w.setStatus(true, "Purging stale posts", 0)

		deleted, err := w.PurgeOnce(ctx, w.now())
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err != nil {
			w.logger.Error("Error purging stale posts", zap.Error(err))
			w.setStatus(false, "Purge failed", 0)
		} else {
			w.setStatus(true, "Completed", 100)
			if deleted > 0 {
				w.logger.Info("Purged stale posts", zap.Int("count", deleted))
			}
		}

		if !core.Sleep(ctx, w.opts.Interval) {
			return ctx.Err()
		}
	}
}

// PurgeOnce deletes everything discovered before now minus the retention,
// one batch at a time, and returns the total deleted.
func (w *Worker) PurgeOnce(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-w.opts.Retention)
	total := 0

	for {
		deleted, err := w.store.PurgeOlderThan(ctx, cutoff, w.opts.BatchSize)
		if err != nil {
			return total, fmt.Errorf("failed to purge posts: %w", err)
		}

		total += deleted

		if deleted < w.opts.BatchSize {
			return total, nil
		}

		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

func (w *Worker) setStatus(healthy bool, task string, progress int) {
	if w.reporter == nil {
		return
	}

	w.reporter.SetHealthy(healthy)
	w.reporter.UpdateStatus(task, progress)
}
