package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/robalyx/reactor/internal/database/dbretry"
	"github.com/robalyx/reactor/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// QueueModel handles the pending post queue.
type QueueModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// Enqueue inserts the post unless it is already queued.
func (r *QueueModel) Enqueue(ctx context.Context, target types.Target, at time.Time) (bool, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (bool, error) {
		result, err := r.db.NewInsert().
			Model(&types.PendingPost{
				SurfaceID:    target.SurfaceID,
				PostID:       target.PostID,
				DiscoveredAt: at,
			}).
			On("CONFLICT (surface_id, post_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to enqueue post: %w (target=%s)", err, target)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to get affected rows: %w", err)
		}

		return affected > 0, nil
	})
}

// Pending returns unprocessed items on active auto-react channels after the cursor.
func (r *QueueModel) Pending(ctx context.Context, after types.Cursor, limit int) ([]*types.PendingPost, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.PendingPost, error) {
		var posts []*types.PendingPost

		err := r.db.NewSelect().
			Model(&posts).
			Join("JOIN managed_channels AS mc ON mc.id = pending_post.surface_id").
			Where("pending_post.processed = FALSE").
			Where("mc.active = TRUE").
			Where("mc.auto_react = TRUE").
			Where("(pending_post.discovered_at, pending_post.id) > (?, ?)", after.DiscoveredAt, after.ID).
			OrderExpr("pending_post.discovered_at ASC, pending_post.id ASC").
			Limit(limit).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list pending posts: %w", err)
		}

		return posts, nil
	})
}

// MarkProcessed flips an unprocessed item to processed.
func (r *QueueModel) MarkProcessed(ctx context.Context, id int64, applied int, ledgerID *int64) (bool, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (bool, error) {
		result, err := r.db.NewUpdate().
			Model((*types.PendingPost)(nil)).
			Set("processed = TRUE").
			Set("applied_count = ?", applied).
			Set("ledger_id = ?", ledgerID).
			Where("id = ?", id).
			Where("processed = FALSE").
			Exec(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to mark post processed: %w (id=%d)", err, id)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to get affected rows: %w", err)
		}

		return affected > 0, nil
	})
}

// PurgeOlderThan deletes up to limit items discovered before cutoff.
func (r *QueueModel) PurgeOlderThan(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	deleted, err := dbretry.Operation(ctx, func(ctx context.Context) (int, error) {
		subq := r.db.NewSelect().
			Model((*types.PendingPost)(nil)).
			Column("id").
			Where("discovered_at < ?", cutoff).
			OrderExpr("discovered_at ASC, id ASC").
			Limit(limit)

		result, err := r.db.NewDelete().
			Model((*types.PendingPost)(nil)).
			Where("id IN (?)", subq).
			Exec(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to purge pending posts: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get affected rows: %w", err)
		}

		return int(affected), nil
	})
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		r.logger.Debug("Purged pending posts",
			zap.Int("count", deleted),
			zap.Time("cutoff", cutoff))
	}

	return deleted, nil
}

// CountProcessed returns the number of processed items still retained.
func (r *QueueModel) CountProcessed(ctx context.Context) (int, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (int, error) {
		return r.db.NewSelect().
			Model((*types.PendingPost)(nil)).
			Where("processed = TRUE").
			Count(ctx)
	})
}
