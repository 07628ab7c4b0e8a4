package migrations

import (
	"context"
	"fmt"

	"github.com/robalyx/reactor/internal/database/types"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		models := []any{
			(*types.Actor)(nil),
			(*types.ManagedChannel)(nil),
			(*types.ReactionEvent)(nil),
			(*types.PendingPost)(nil),
		}

		for _, model := range models {
			_, err := db.NewCreateTable().
				Model(model).
				IfNotExists().
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to create table for %T: %w", model, err)
			}
		}

		_, err := db.NewRaw(`
			CREATE INDEX IF NOT EXISTS idx_reaction_events_window
			ON reaction_events (actor_id, surface_id, post_id, applied_at DESC)
			WHERE active = TRUE;

			CREATE INDEX IF NOT EXISTS idx_pending_posts_discovered
			ON pending_posts (discovered_at, id)
			WHERE processed = FALSE;

			CREATE INDEX IF NOT EXISTS idx_pending_posts_purge
			ON pending_posts (discovered_at);

			CREATE INDEX IF NOT EXISTS idx_actors_subscribed
			ON actors (subscription_expires_at)
			WHERE subscribed = TRUE;
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			DROP TABLE IF EXISTS pending_posts, reaction_events, managed_channels, actors CASCADE
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to drop tables: %w", err)
		}

		return nil
	})
}
