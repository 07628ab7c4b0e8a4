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

// ActorModel handles database operations for actors.
type ActorModel struct {
	client *Client
	logger *zap.Logger
}

// Get retrieves an actor by ID.
func (r *ActorModel) Get(ctx context.Context, id int64) (*types.Actor, error) {
	var actor *types.Actor

	err := r.client.withConn(ctx, func(conn *sqlite.Conn) error {
		actor = nil

		return sqlitex.Execute(conn, `
			SELECT id, username, subscribed, subscription_expires_at, verified_at, created_at
			FROM actors WHERE id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{id},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					actor = &types.Actor{
						ID:                    stmt.ColumnInt64(0),
						Username:              stmt.ColumnText(1),
						Subscribed:            stmt.ColumnInt64(2) != 0,
						SubscriptionExpiresAt: columnTime(stmt, 3),
						VerifiedAt:            columnTime(stmt, 4),
						CreatedAt:             fromMillis(stmt.ColumnInt64(5)),
					}
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get actor: %w", err)
	}

	if actor == nil {
		return nil, types.ErrActorNotFound
	}

	return actor, nil
}

// Ensure inserts the actor if it does not exist yet.
func (r *ActorModel) Ensure(ctx context.Context, id int64, username string) error {
	err := r.client.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO actors (id, username, created_at) VALUES (?, NULLIF(?, ''), ?)
			ON CONFLICT (id) DO NOTHING`,
			&sqlitex.ExecOptions{Args: []any{id, username, toMillis(time.Now())}})
	})
	if err != nil {
		return fmt.Errorf("failed to ensure actor: %w", err)
	}

	return nil
}

// GrantSubscription sets the subscription flag and expiry, creating the actor if needed.
func (r *ActorModel) GrantSubscription(ctx context.Context, id int64, until time.Time) error {
	err := r.client.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO actors (id, subscribed, subscription_expires_at, created_at) VALUES (?, 1, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				subscribed = 1,
				subscription_expires_at = excluded.subscription_expires_at`,
			&sqlitex.ExecOptions{Args: []any{id, toMillis(until), toMillis(time.Now())}})
	})
	if err != nil {
		return fmt.Errorf("failed to grant subscription: %w", err)
	}

	r.logger.Info("Granted subscription",
		zap.Int64("actorID", id),
		zap.Time("until", until))

	return nil
}

// ClearExpiredSubscription clears the subscription only if it expired at or before now.
func (r *ActorModel) ClearExpiredSubscription(ctx context.Context, id int64, now time.Time) (bool, error) {
	var changed bool

	err := r.client.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			UPDATE actors SET subscribed = 0, subscription_expires_at = NULL
			WHERE id = ? AND subscribed = 1
				AND subscription_expires_at IS NOT NULL
				AND subscription_expires_at <= ?`,
			&sqlitex.ExecOptions{Args: []any{id, toMillis(now)}})
		changed = conn.Changes() > 0

		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to clear expired subscription: %w", err)
	}

	return changed, nil
}

// MarkVerified records a successful membership check.
func (r *ActorModel) MarkVerified(ctx context.Context, id int64, at time.Time) error {
	err := r.client.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO actors (id, verified_at, created_at) VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET verified_at = excluded.verified_at`,
			&sqlitex.ExecOptions{Args: []any{id, toMillis(at), toMillis(at)}})
	})
	if err != nil {
		return fmt.Errorf("failed to mark actor verified: %w", err)
	}

	return nil
}

// Count returns the number of known actors.
func (r *ActorModel) Count(ctx context.Context) (int, error) {
	return r.client.countQuery(ctx, "SELECT COUNT(*) FROM actors")
}

// CountSubscribed returns the number of actors with a subscription active at now.
func (r *ActorModel) CountSubscribed(ctx context.Context, now time.Time) (int, error) {
	return r.client.countQuery(ctx, `
		SELECT COUNT(*) FROM actors
		WHERE subscribed = 1 AND (subscription_expires_at IS NULL OR subscription_expires_at > ?)`,
		toMillis(now))
}

// countQuery runs a single-value integer query.
func (c *Client) countQuery(ctx context.Context, query string, args ...any) (int, error) {
	var count int64

	err := c.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt64(0)
				return nil
			},
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to run count query: %w", err)
	}

	return int(count), nil
}
