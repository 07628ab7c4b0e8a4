package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/robalyx/reactor/internal/database/types"
	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// LedgerModel handles the append-only reaction ledger.
type LedgerModel struct {
	client *Client
	logger *zap.Logger
}

// Append inserts an event and returns its ID. An event whose request ID is
// already recorded is not inserted again; the existing ID is returned.
func (r *LedgerModel) Append(ctx context.Context, event *types.ReactionEvent) (int64, error) {
	symbols, err := sonic.MarshalString(event.Symbols)
	if err != nil {
		return 0, fmt.Errorf("failed to encode symbols: %w", err)
	}

	var requestID any
	if event.RequestID != "" {
		requestID = event.RequestID
	}

	var id int64

	err = r.client.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO reaction_events
				(actor_id, surface_id, post_id, symbols, applied_count, applied_at, active, request_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (request_id) DO NOTHING`,
			&sqlitex.ExecOptions{Args: []any{
				event.ActorID, event.SurfaceID, event.PostID, symbols,
				event.AppliedCount, toMillis(event.AppliedAt), boolInt(event.Active), requestID,
			}})
		if err != nil {
			return err
		}

		if conn.Changes() > 0 {
			id = conn.LastInsertRowID()
			return nil
		}

		return sqlitex.Execute(conn, "SELECT id FROM reaction_events WHERE request_id = ?",
			&sqlitex.ExecOptions{
				Args: []any{event.RequestID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					id = stmt.ColumnInt64(0)
					return nil
				},
			})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to append reaction event: %w", err)
	}

	event.ID = id

	r.logger.Debug("Appended reaction event",
		zap.Int64("id", id),
		zap.Int64("actorID", event.ActorID),
		zap.Stringer("target", event.Target()),
		zap.Int("applied", event.AppliedCount))

	return id, nil
}

// UsedInWindow sums applied counts of active events for the pair at or after since.
func (r *LedgerModel) UsedInWindow(
	ctx context.Context, actorID int64, target types.Target, since time.Time,
) (int, error) {
	return r.client.countQuery(ctx, `
		SELECT COALESCE(SUM(applied_count), 0) FROM reaction_events
		WHERE actor_id = ? AND surface_id = ? AND post_id = ?
			AND active = 1 AND applied_at >= ?`,
		actorID, target.SurfaceID, target.PostID, toMillis(since))
}

// TotalApplied sums applied counts across all events.
func (r *LedgerModel) TotalApplied(ctx context.Context) (int64, error) {
	total, err := r.client.countQuery(ctx, "SELECT COALESCE(SUM(applied_count), 0) FROM reaction_events")
	return int64(total), err
}

// TotalAppliedByActor sums applied counts for one actor.
func (r *LedgerModel) TotalAppliedByActor(ctx context.Context, actorID int64) (int64, error) {
	total, err := r.client.countQuery(ctx,
		"SELECT COALESCE(SUM(applied_count), 0) FROM reaction_events WHERE actor_id = ?", actorID)
	return int64(total), err
}
