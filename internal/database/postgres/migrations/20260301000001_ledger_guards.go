package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// Reaction events are insert-only; updates and deletes are rejected by the database.
func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			CREATE OR REPLACE FUNCTION reaction_events_append_only() RETURNS trigger AS $$
			BEGIN
				RAISE EXCEPTION 'reaction_events is append-only';
			END;
			$$ LANGUAGE plpgsql;

			DROP TRIGGER IF EXISTS reaction_events_no_modify ON reaction_events;

			CREATE TRIGGER reaction_events_no_modify
			BEFORE UPDATE OR DELETE ON reaction_events
			FOR EACH ROW EXECUTE FUNCTION reaction_events_append_only();
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create ledger guard: %w", err)
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			DROP TRIGGER IF EXISTS reaction_events_no_modify ON reaction_events;
			DROP FUNCTION IF EXISTS reaction_events_append_only();
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to drop ledger guard: %w", err)
		}

		return nil
	})
}
