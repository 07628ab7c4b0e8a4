package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/robalyx/reactor/internal/database/dbretry"
	"github.com/robalyx/reactor/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// ChannelModel handles database operations for managed channels.
type ChannelModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// Register upserts the channel and marks it active.
func (r *ChannelModel) Register(ctx context.Context, channel *types.ManagedChannel) error {
	channel.Active = true

	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewInsert().
			Model(channel).
			On("CONFLICT (id) DO UPDATE").
			Set("title = EXCLUDED.title").
			Set("username = EXCLUDED.username").
			Set("auto_react = EXCLUDED.auto_react").
			Set("active = TRUE").
			Set("registered_by = EXCLUDED.registered_by").
			Set("registered_at = EXCLUDED.registered_at").
			Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to register channel: %w (channelID=%d)", err, channel.ID)
	}

	r.logger.Info("Registered channel",
		zap.Int64("channelID", channel.ID),
		zap.String("title", channel.Title))

	return nil
}

// Get retrieves a channel by ID.
func (r *ChannelModel) Get(ctx context.Context, id int64) (*types.ManagedChannel, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.ManagedChannel, error) {
		var channel types.ManagedChannel

		err := r.db.NewSelect().Model(&channel).
			Where("id = ?", id).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, types.ErrChannelNotFound
			}
			return nil, fmt.Errorf("failed to get channel: %w (channelID=%d)", err, id)
		}

		return &channel, nil
	})
}

// ListActive returns all active channels ordered by registration time.
func (r *ChannelModel) ListActive(ctx context.Context) ([]*types.ManagedChannel, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.ManagedChannel, error) {
		var channels []*types.ManagedChannel

		err := r.db.NewSelect().Model(&channels).
			Where("active = TRUE").
			Order("registered_at ASC", "id ASC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list channels: %w", err)
		}

		return channels, nil
	})
}

// SetAutoReact sets the auto-react toggle.
func (r *ChannelModel) SetAutoReact(ctx context.Context, id int64, enabled bool) (bool, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (bool, error) {
		result, err := r.db.NewUpdate().
			Model((*types.ManagedChannel)(nil)).
			Set("auto_react = ?", enabled).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to set auto react: %w (channelID=%d)", err, id)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to get affected rows: %w", err)
		}

		return affected > 0, nil
	})
}

// ToggleAutoReact flips the auto-react toggle and returns the new value.
func (r *ChannelModel) ToggleAutoReact(ctx context.Context, id int64) (bool, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (bool, error) {
		var enabled bool

		err := r.db.NewUpdate().
			Model((*types.ManagedChannel)(nil)).
			Set("auto_react = NOT auto_react").
			Where("id = ?", id).
			Returning("auto_react").
			Scan(ctx, &enabled)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return false, types.ErrChannelNotFound
			}
			return false, fmt.Errorf("failed to toggle auto react: %w (channelID=%d)", err, id)
		}

		return enabled, nil
	})
}

// Deactivate soft-deletes the channel.
func (r *ChannelModel) Deactivate(ctx context.Context, id int64) error {
	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewUpdate().
			Model((*types.ManagedChannel)(nil)).
			Set("active = FALSE").
			Where("id = ?", id).
			Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to deactivate channel: %w (channelID=%d)", err, id)
	}

	r.logger.Info("Deactivated channel", zap.Int64("channelID", id))

	return nil
}
