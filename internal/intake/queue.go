package intake

import (
	"context"
	"iter"
	"time"

	"github.com/robalyx/reactor/internal/database"
	"github.com/robalyx/reactor/internal/database/types"
	"go.uber.org/zap"
)

// DefaultPageSize is used when no page size is configured.
const DefaultPageSize = 50

// Queue is the durable work-list of posts awaiting automatic reactions.
type Queue struct {
	store    database.QueueStore
	pageSize int
	logger   *zap.Logger
}

// NewQueue creates a Queue over the store.
func NewQueue(store database.QueueStore, pageSize int, logger *zap.Logger) *Queue {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	return &Queue{
		store:    store,
		pageSize: pageSize,
		logger:   logger.Named("intake_queue"),
	}
}

// Enqueue records a newly observed post. Duplicate observations are ignored.
func (q *Queue) Enqueue(ctx context.Context, target types.Target) (bool, error) {
	inserted, err := q.store.Enqueue(ctx, target, time.Now())
	if err != nil {
		return false, err
	}

	if inserted {
		q.logger.Debug("Queued post", zap.Stringer("target", target))
	}

	return inserted, nil
}

// Drain lazily yields pending items in discovery order, one page at a time.
// Items processed while draining are not yielded again. A page error is
// yielded once and ends the sequence.
func (q *Queue) Drain(ctx context.Context) iter.Seq2[*types.PendingPost, error] {
	return func(yield func(*types.PendingPost, error) bool) {
		var cursor types.Cursor

		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			page, err := q.store.Pending(ctx, cursor, q.pageSize)
			if err != nil {
				yield(nil, err)
				return
			}

			for _, post := range page {
				if !yield(post, nil) {
					return
				}
				cursor = post.Cursor()
			}

			if len(page) < q.pageSize {
				return
			}
		}
	}
}

// MarkProcessed flips the item to processed with the applied count and ledger reference.
func (q *Queue) MarkProcessed(ctx context.Context, post *types.PendingPost, applied int, ledgerID *int64) error {
	changed, err := q.store.MarkProcessed(ctx, post.ID, applied, ledgerID)
	if err != nil {
		return err
	}

	if !changed {
		q.logger.Debug("Post already processed or purged",
			zap.Int64("id", post.ID),
			zap.Stringer("target", post.Target()))
	}

	return nil
}
