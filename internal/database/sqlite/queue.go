package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/robalyx/reactor/internal/database/types"
	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// QueueModel handles the pending post queue.
type QueueModel struct {
	client *Client
	logger *zap.Logger
}

// Enqueue inserts the post unless it is already queued.
func (r *QueueModel) Enqueue(ctx context.Context, target types.Target, at time.Time) (bool, error) {
	var inserted bool

	err := r.client.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO pending_posts (surface_id, post_id, discovered_at) VALUES (?, ?, ?)
			ON CONFLICT (surface_id, post_id) DO NOTHING`,
			&sqlitex.ExecOptions{Args: []any{target.SurfaceID, target.PostID, toMillis(at)}})
		inserted = conn.Changes() > 0

		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to enqueue post: %w", err)
	}

	return inserted, nil
}

// Pending returns unprocessed items on active auto-react channels after the cursor.
func (r *QueueModel) Pending(ctx context.Context, after types.Cursor, limit int) ([]*types.PendingPost, error) {
	var posts []*types.PendingPost

	afterMillis := toMillis(after.DiscoveredAt)

	err := r.client.withConn(ctx, func(conn *sqlite.Conn) error {
		posts = posts[:0]

		return sqlitex.Execute(conn, `
			SELECT p.id, p.surface_id, p.post_id, p.discovered_at, p.processed, p.applied_count, p.ledger_id
			FROM pending_posts p
			JOIN managed_channels c ON c.id = p.surface_id
			WHERE p.processed = 0 AND c.active = 1 AND c.auto_react = 1
				AND (p.discovered_at > ? OR (p.discovered_at = ? AND p.id > ?))
			ORDER BY p.discovered_at, p.id
			LIMIT ?`,
			&sqlitex.ExecOptions{
				Args: []any{afterMillis, afterMillis, after.ID, limit},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					post := &types.PendingPost{
						ID:           stmt.ColumnInt64(0),
						SurfaceID:    stmt.ColumnInt64(1),
						PostID:       stmt.ColumnInt64(2),
						DiscoveredAt: fromMillis(stmt.ColumnInt64(3)),
						Processed:    stmt.ColumnInt64(4) != 0,
						AppliedCount: int(stmt.ColumnInt64(5)),
					}
					if stmt.ColumnType(6) != sqlite.TypeNull {
						ledgerID := stmt.ColumnInt64(6)
						post.LedgerID = &ledgerID
					}

					posts = append(posts, post)

					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending posts: %w", err)
	}

	return posts, nil
}

// MarkProcessed flips an unprocessed item to processed.
func (r *QueueModel) MarkProcessed(ctx context.Context, id int64, applied int, ledgerID *int64) (bool, error) {
	var changed bool

	var ledger any
	if ledgerID != nil {
		ledger = *ledgerID
	}

	err := r.client.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			UPDATE pending_posts SET processed = 1, applied_count = ?, ledger_id = ?
			WHERE id = ? AND processed = 0`,
			&sqlitex.ExecOptions{Args: []any{applied, ledger, id}})
		changed = conn.Changes() > 0

		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to mark post processed: %w", err)
	}

	return changed, nil
}

// PurgeOlderThan deletes up to limit items discovered before cutoff.
func (r *QueueModel) PurgeOlderThan(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	var deleted int

	err := r.client.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			DELETE FROM pending_posts WHERE id IN (
				SELECT id FROM pending_posts WHERE discovered_at < ? ORDER BY discovered_at, id LIMIT ?
			)`,
			&sqlitex.ExecOptions{Args: []any{toMillis(cutoff), limit}})
		deleted = conn.Changes()

		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge pending posts: %w", err)
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
	return r.client.countQuery(ctx, "SELECT COUNT(*) FROM pending_posts WHERE processed = 1")
}
