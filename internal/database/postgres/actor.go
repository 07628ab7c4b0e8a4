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

// ActorModel handles database operations for actors.
type ActorModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// Get retrieves an actor by ID.
func (r *ActorModel) Get(ctx context.Context, id int64) (*types.Actor, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.Actor, error) {
		var actor types.Actor

		err := r.db.NewSelect().Model(&actor).
			Where("id = ?", id).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, types.ErrActorNotFound
			}
			return nil, fmt.Errorf("failed to get actor: %w (actorID=%d)", err, id)
		}

		return &actor, nil
	})
}

// Ensure inserts the actor if it does not exist yet.
func (r *ActorModel) Ensure(ctx context.Context, id int64, username string) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewInsert().
			Model(&types.Actor{ID: id, Username: username, CreatedAt: time.Now()}).
			On("CONFLICT (id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to ensure actor: %w (actorID=%d)", err, id)
		}

		return nil
	})
}

// GrantSubscription sets the subscription flag and expiry, creating the actor if needed.
func (r *ActorModel) GrantSubscription(ctx context.Context, id int64, until time.Time) error {
	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewInsert().
			Model(&types.Actor{
				ID:                    id,
				Subscribed:            true,
				SubscriptionExpiresAt: &until,
				CreatedAt:             time.Now(),
			}).
			On("CONFLICT (id) DO UPDATE").
			Set("subscribed = TRUE").
			Set("subscription_expires_at = EXCLUDED.subscription_expires_at").
			Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to grant subscription: %w (actorID=%d)", err, id)
	}

	r.logger.Info("Granted subscription",
		zap.Int64("actorID", id),
		zap.Time("until", until))

	return nil
}

// ClearExpiredSubscription clears the subscription only if it expired at or before now.
func (r *ActorModel) ClearExpiredSubscription(ctx context.Context, id int64, now time.Time) (bool, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (bool, error) {
		result, err := r.db.NewUpdate().
			Model((*types.Actor)(nil)).
			Set("subscribed = FALSE").
			Set("subscription_expires_at = NULL").
			Where("id = ?", id).
			Where("subscribed = TRUE").
			Where("subscription_expires_at IS NOT NULL").
			Where("subscription_expires_at <= ?", now).
			Exec(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to clear expired subscription: %w (actorID=%d)", err, id)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to get affected rows: %w", err)
		}

		return affected > 0, nil
	})
}

// MarkVerified records a successful membership check.
func (r *ActorModel) MarkVerified(ctx context.Context, id int64, at time.Time) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewInsert().
			Model(&types.Actor{ID: id, VerifiedAt: &at, CreatedAt: at}).
			On("CONFLICT (id) DO UPDATE").
			Set("verified_at = EXCLUDED.verified_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark actor verified: %w (actorID=%d)", err, id)
		}

		return nil
	})
}

// Count returns the number of known actors.
func (r *ActorModel) Count(ctx context.Context) (int, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (int, error) {
		return r.db.NewSelect().Model((*types.Actor)(nil)).Count(ctx)
	})
}

// CountSubscribed returns the number of actors with a subscription active at now.
func (r *ActorModel) CountSubscribed(ctx context.Context, now time.Time) (int, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (int, error) {
		return r.db.NewSelect().
			Model((*types.Actor)(nil)).
			Where("subscribed = TRUE").
			WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.Where("subscription_expires_at IS NULL").
					WhereOr("subscription_expires_at > ?", now)
			}).
			Count(ctx)
	})
}
