package sqlite

import (
	"context"
	"fmt"

	"github.com/robalyx/reactor/internal/database/types"
	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const channelColumns = "id, title, username, auto_react, active, registered_by, registered_at"

// ChannelModel handles database operations for managed channels.
type ChannelModel struct {
	client *Client
	logger *zap.Logger
}

// Register upserts the channel and marks it active.
func (r *ChannelModel) Register(ctx context.Context, channel *types.ManagedChannel) error {
	err := r.client.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO managed_channels (`+channelColumns+`)
			VALUES (?, ?, NULLIF(?, ''), ?, 1, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				title = excluded.title,
				username = excluded.username,
				auto_react = excluded.auto_react,
				active = 1,
				registered_by = excluded.registered_by,
				registered_at = excluded.registered_at`,
			&sqlitex.ExecOptions{Args: []any{
				channel.ID, channel.Title, channel.Username, boolInt(channel.AutoReact),
				channel.RegisteredBy, toMillis(channel.RegisteredAt),
			}})
	})
	if err != nil {
		return fmt.Errorf("failed to register channel: %w", err)
	}

	r.logger.Info("Registered channel",
		zap.Int64("channelID", channel.ID),
		zap.String("title", channel.Title))

	return nil
}

// Get retrieves a channel by ID.
func (r *ChannelModel) Get(ctx context.Context, id int64) (*types.ManagedChannel, error) {
	var channel *types.ManagedChannel

	err := r.client.withConn(ctx, func(conn *sqlite.Conn) error {
		channel = nil

		return sqlitex.Execute(conn, "SELECT "+channelColumns+" FROM managed_channels WHERE id = ?",
			&sqlitex.ExecOptions{
				Args: []any{id},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					channel = scanChannel(stmt)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}

	if channel == nil {
		return nil, types.ErrChannelNotFound
	}

	return channel, nil
}

// ListActive returns all active channels ordered by registration time.
func (r *ChannelModel) ListActive(ctx context.Context) ([]*types.ManagedChannel, error) {
	var channels []*types.ManagedChannel

	err := r.client.withConn(ctx, func(conn *sqlite.Conn) error {
		channels = channels[:0]

		return sqlitex.Execute(conn,
			"SELECT "+channelColumns+" FROM managed_channels WHERE active = 1 ORDER BY registered_at, id",
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					channels = append(channels, scanChannel(stmt))
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}

	return channels, nil
}

// SetAutoReact sets the auto-react toggle.
func (r *ChannelModel) SetAutoReact(ctx context.Context, id int64, enabled bool) (bool, error) {
	var found bool

	err := r.client.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, "UPDATE managed_channels SET auto_react = ? WHERE id = ?",
			&sqlitex.ExecOptions{Args: []any{boolInt(enabled), id}})
		found = conn.Changes() > 0

		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to set auto react: %w", err)
	}

	return found, nil
}

// ToggleAutoReact flips the auto-react toggle and returns the new value.
func (r *ChannelModel) ToggleAutoReact(ctx context.Context, id int64) (bool, error) {
	var (
		enabled bool
		found   bool
	)

	err := r.client.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		endFn, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return err
		}
		defer endFn(&err)

		found = false

		err = sqlitex.Execute(conn, "UPDATE managed_channels SET auto_react = 1 - auto_react WHERE id = ?",
			&sqlitex.ExecOptions{Args: []any{id}})
		if err != nil {
			return err
		}

		return sqlitex.Execute(conn, "SELECT auto_react FROM managed_channels WHERE id = ?",
			&sqlitex.ExecOptions{
				Args: []any{id},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					found = true
					enabled = stmt.ColumnInt64(0) != 0
					return nil
				},
			})
	})
	if err != nil {
		return false, fmt.Errorf("failed to toggle auto react: %w", err)
	}

	if !found {
		return false, types.ErrChannelNotFound
	}

	return enabled, nil
}

// Deactivate soft-deletes the channel.
func (r *ChannelModel) Deactivate(ctx context.Context, id int64) error {
	err := r.client.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "UPDATE managed_channels SET active = 0 WHERE id = ?",
			&sqlitex.ExecOptions{Args: []any{id}})
	})
	if err != nil {
		return fmt.Errorf("failed to deactivate channel: %w", err)
	}

	r.logger.Info("Deactivated channel", zap.Int64("channelID", id))

	return nil
}

func scanChannel(stmt *sqlite.Stmt) *types.ManagedChannel {
	return &types.ManagedChannel{
		ID:           stmt.ColumnInt64(0),
		Title:        stmt.ColumnText(1),
		Username:     stmt.ColumnText(2),
		AutoReact:    stmt.ColumnInt64(3) != 0,
		Active:       stmt.ColumnInt64(4) != 0,
		RegisteredBy: stmt.ColumnInt64(5),
		RegisteredAt: fromMillis(stmt.ColumnInt64(6)),
	}
}
