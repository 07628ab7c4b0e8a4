package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/robalyx/reactor/internal/database/dbretry"
	"github.com/robalyx/reactor/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// LedgerModel handles the append-only reaction ledger.
type LedgerModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// Append inserts an event and returns its ID. An event whose request ID is
// already recorded is not inserted again; the existing ID is returned.
func (r *LedgerModel) Append(ctx context.Context, event *types.ReactionEvent) (int64, error) {
	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		// A retry after a lost reply finds the row the first attempt committed
		if event.RequestID != "" {
			var id int64
			err := r.db.NewSelect().
				Model((*types.ReactionEvent)(nil)).
				Column("id").
				Where("request_id = ?", event.RequestID).
				Scan(ctx, &id)
			if err == nil {
				event.ID = id
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}

		_, err := r.db.NewInsert().
			Model(event).
			Returning("id").
			Exec(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to append reaction event: %w (actorID=%d)", err, event.ActorID)
	}

	r.logger.Debug("Appended reaction event",
		zap.Int64("id", event.ID),
		zap.Int64("actorID", event.ActorID),
		zap.Stringer("target", event.Target()),
		zap.Int("applied", event.AppliedCount))

	return event.ID, nil
}

// UsedInWindow sums applied counts of active events for the pair at or after since.
func (r *LedgerModel) UsedInWindow(
	ctx context.Context, actorID int64, target types.Target, since time.Time,
) (int, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (int, error) {
		var used int

		err := r.db.NewSelect().
			Model((*types.ReactionEvent)(nil)).
			ColumnExpr("COALESCE(SUM(applied_count), 0)").
			Where("actor_id = ?", actorID).
			Where("surface_id = ?", target.SurfaceID).
			Where("post_id = ?", target.PostID).
			Where("active = TRUE").
			Where("applied_at >= ?", since).
			Scan(ctx, &used)
		if err != nil {
			return 0, fmt.Errorf("failed to sum window usage: %w (actorID=%d)", err, actorID)
		}

		return used, nil
	})
}

// TotalApplied sums applied counts across all events.
func (r *LedgerModel) TotalApplied(ctx context.Context) (int64, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (int64, error) {
		var total int64

		err := r.db.NewSelect().
			Model((*types.ReactionEvent)(nil)).
			ColumnExpr("COALESCE(SUM(applied_count), 0)").
			Scan(ctx, &total)
		if err != nil {
			return 0, fmt.Errorf("failed to sum applied reactions: %w", err)
		}

		return total, nil
	})
}

// TotalAppliedByActor sums applied counts for one actor.
func (r *LedgerModel) TotalAppliedByActor(ctx context.Context, actorID int64) (int64, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (int64, error) {
		var total int64

		err := r.db.NewSelect().
			Model((*types.ReactionEvent)(nil)).
			ColumnExpr("COALESCE(SUM(applied_count), 0)").
			Where("actor_id = ?", actorID).
			Scan(ctx, &total)
		if err != nil {
			return 0, fmt.Errorf("failed to sum applied reactions: %w (actorID=%d)", err, actorID)
		}

		return total, nil
	})
}
