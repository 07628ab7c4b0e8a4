package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// Ledger appends carry a request ID so a retried insert is recorded once.
func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			ALTER TABLE reaction_events ADD COLUMN IF NOT EXISTS request_id VARCHAR;

			CREATE UNIQUE INDEX IF NOT EXISTS idx_reaction_events_request
			ON reaction_events (request_id);
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to add ledger request id: %w", err)
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			DROP INDEX IF EXISTS idx_reaction_events_request;
			ALTER TABLE reaction_events DROP COLUMN IF EXISTS request_id;
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to drop ledger request id: %w", err)
		}

		return nil
	})
}
