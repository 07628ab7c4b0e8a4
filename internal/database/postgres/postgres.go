package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/bytedance/sonic"
	"github.com/robalyx/reactor/internal/database"
	"github.com/robalyx/reactor/internal/database/postgres/migrations"
	"github.com/robalyx/reactor/internal/setup/config"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bunjson"
	"github.com/uptrace/bun/extra/bunotel"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"
)

// sonicProvider is a JSON provider that uses Sonic for encoding and decoding.
type sonicProvider struct{}

func (sonicProvider) Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

func (sonicProvider) Unmarshal(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

func (sonicProvider) NewEncoder(w io.Writer) bunjson.Encoder {
	return sonic.ConfigDefault.NewEncoder(w)
}

func (sonicProvider) NewDecoder(r io.Reader) bunjson.Decoder {
	return sonic.ConfigDefault.NewDecoder(r)
}

// Client is the PostgreSQL implementation of database.Client.
type Client struct {
	db       *bun.DB
	logger   *zap.Logger
	actors   *ActorModel
	channels *ChannelModel
	ledger   *LedgerModel
	queue    *QueueModel
}

// NewConnection establishes a new database connection and returns a Client instance.
func NewConnection(
	ctx context.Context, cfg *config.PostgreSQL, logger *zap.Logger, autoMigrate bool,
) (*Client, error) {
	// A full DSN wins over the discrete connection fields
	var connector *pgdriver.Connector
	if cfg.DSN != "" {
		connector = pgdriver.NewConnector(
			pgdriver.WithDSN(cfg.DSN),
			pgdriver.WithApplicationName("reactor"),
		)
	} else {
		connector = pgdriver.NewConnector(
			pgdriver.WithAddr(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
			pgdriver.WithUser(cfg.User),
			pgdriver.WithPassword(cfg.Password),
			pgdriver.WithDatabase(cfg.DBName),
			pgdriver.WithInsecure(true),
			pgdriver.WithApplicationName("reactor"),
		)
	}

	sqldb := sql.OpenDB(connector)

	// Set connection pool settings
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqldb.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Minute)
	sqldb.SetConnMaxIdleTime(time.Duration(cfg.MaxIdleTime) * time.Minute)

	// Set Sonic as the JSON provider
	bunjson.SetProvider(sonicProvider{})

	db := bun.NewDB(sqldb, pgdialect.New())

	// Add query hooks for logging and tracing
	dbName := cfg.DBName
	if dbName == "" {
		dbName = "reactor"
	}

	db.AddQueryHook(NewHook(logger))
	db.AddQueryHook(bunotel.NewQueryHook(bunotel.WithDBName(dbName)))

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	if autoMigrate {
		migrator := NewMigrator(db)
		if err := migrator.Init(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize migrations: %w", err)
		}

		group, err := migrator.Migrate(ctx)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		if !group.IsZero() {
			logger.Info("Automatically ran migrations", zap.String("group", group.String()))
		}
	}

	client := &Client{
		db:       db,
		logger:   logger,
		actors:   &ActorModel{db: db, logger: logger.Named("db_actor")},
		channels: &ChannelModel{db: db, logger: logger.Named("db_channel")},
		ledger:   &LedgerModel{db: db, logger: logger.Named("db_ledger")},
		queue:    &QueueModel{db: db, logger: logger.Named("db_queue")},
	}

	logger.Info("Database connection established")

	return client, nil
}

// NewMigrator creates a migrator for the registered migrations.
func NewMigrator(db *bun.DB) *migrate.Migrator {
	return migrate.NewMigrator(db, migrations.Migrations)
}

// Actors returns the actor store.
func (c *Client) Actors() database.ActorStore { return c.actors }

// Channels returns the channel store.
func (c *Client) Channels() database.ChannelStore { return c.channels }

// Ledger returns the reaction ledger.
func (c *Client) Ledger() database.LedgerStore { return c.ledger }

// Queue returns the pending post queue.
func (c *Client) Queue() database.QueueStore { return c.queue }

// Ping checks that the database is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying bun.DB instance.
func (c *Client) DB() *bun.DB {
	return c.db
}

// Close gracefully shuts down the database connection.
func (c *Client) Close() error {
	err := c.db.Close()
	if err != nil {
		c.logger.Error("Failed to close database connection", zap.Error(err))
		return err
	}

	c.logger.Info("Database connection closed")

	return nil
}
