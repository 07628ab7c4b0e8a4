package sqlite

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/robalyx/reactor/internal/database"
	"github.com/robalyx/reactor/internal/database/dbretry"
	"github.com/robalyx/reactor/internal/setup/config"
	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

//go:embed schema.sql
var schema string

// Client is the embedded SQLite implementation of database.Client.
type Client struct {
	pool     *sqlitex.Pool
	logger   *zap.Logger
	actors   *ActorModel
	channels *ChannelModel
	ledger   *LedgerModel
	queue    *QueueModel
}

// Open opens or creates the database file and bootstraps the schema.
func Open(ctx context.Context, cfg *config.SQLite, logger *zap.Logger) (*Client, error) {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	busyTimeout := cfg.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = 5000
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		Flags:    sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenWAL | sqlite.OpenURI,
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, fmt.Sprintf(
				"PRAGMA busy_timeout = %d; PRAGMA foreign_keys = ON;", busyTimeout,
			), nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite pool: %w", err)
	}

	c := &Client{
		pool:   pool,
		logger: logger.Named("sqlite"),
	}

	if err := c.withConn(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
			return err
		}
		return upgradeSchema(conn)
	}); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("failed to bootstrap schema: %w", err)
	}

	c.actors = &ActorModel{client: c, logger: logger.Named("db_actor")}
	c.channels = &ChannelModel{client: c, logger: logger.Named("db_channel")}
	c.ledger = &LedgerModel{client: c, logger: logger.Named("db_ledger")}
	c.queue = &QueueModel{client: c, logger: logger.Named("db_queue")}

	c.logger.Info("Database connection established", zap.String("path", cfg.Path))

	return c, nil
}

// Actors returns the actor store.
func (c *Client) Actors() database.ActorStore { return c.actors }

// Channels returns the channel store.
func (c *Client) Channels() database.ChannelStore { return c.channels }

// Ledger returns the reaction ledger.
func (c *Client) Ledger() database.LedgerStore { return c.ledger }

// Queue returns the pending post queue.
func (c *Client) Queue() database.QueueStore { return c.queue }

// Ping runs a trivial query on a pooled connection.
func (c *Client) Ping(ctx context.Context) error {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("failed to take connection: %w", err)
	}
	defer c.pool.Put(conn)

	return sqlitex.ExecuteTransient(conn, "SELECT 1", nil)
}

// Close gracefully shuts down the pool.
func (c *Client) Close() error {
	if err := c.pool.Close(); err != nil {
		c.logger.Error("Failed to close database connection", zap.Error(err))
		return err
	}

	c.logger.Info("Database connection closed")

	return nil
}

// withConn runs fn on a pooled connection with retry on busy errors.
func (c *Client) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		conn, err := c.pool.Take(ctx)
		if err != nil {
			return fmt.Errorf("failed to take connection: %w", err)
		}
		defer c.pool.Put(conn)

		return fn(conn)
	})
}

// upgradeSchema brings databases created before the ledger request ID up to date.
func upgradeSchema(conn *sqlite.Conn) error {
	hasRequestID := false
	err := sqlitex.Execute(conn,
		"SELECT 1 FROM pragma_table_info('reaction_events') WHERE name = 'request_id'",
		&sqlitex.ExecOptions{ResultFunc: func(*sqlite.Stmt) error {
			hasRequestID = true
			return nil
		}})
	if err != nil {
		return err
	}

	if !hasRequestID {
		// ALTER TABLE is not an UPDATE, so the append-only triggers allow it
		if err := sqlitex.Execute(conn, "ALTER TABLE reaction_events ADD COLUMN request_id TEXT", nil); err != nil {
			return err
		}
	}

	return sqlitex.Execute(conn,
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_reaction_events_request ON reaction_events (request_id)", nil)
}

// toMillis stores times as unix milliseconds.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// fromMillis restores a stored time in UTC.
func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// columnTime reads a nullable millisecond column.
func columnTime(stmt *sqlite.Stmt, col int) *time.Time {
	if stmt.ColumnType(col) == sqlite.TypeNull {
		return nil
	}

	t := fromMillis(stmt.ColumnInt64(col))

	return &t
}

// boolInt stores booleans as 0 or 1.
func boolInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
