package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/robalyx/reactor/cmd/db/commands"
	"github.com/robalyx/reactor/internal/database/postgres"
	"github.com/robalyx/reactor/internal/setup"
	"github.com/robalyx/reactor/internal/setup/config"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	deps, err := setupDependencies(ctx)
	if err != nil {
		return fmt.Errorf("failed to setup dependencies: %w", err)
	}
	defer deps.DB.Close()

	app := &cli.Command{
		Name:     "db",
		Usage:    "Database management tool",
		Commands: append(commands.MigrationCommands(deps), commands.AdminCommands(deps)...),
	}

	return app.Run(ctx, os.Args)
}

// setupDependencies opens the configured storage. Migrations are only wired
// for PostgreSQL; SQLite bootstraps its schema on open.
func setupDependencies(ctx context.Context) (*commands.CLIDependencies, error) {
	cfg, _, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	if cfg.Common.Storage.Driver == config.DriverPostgres {
		db, err := postgres.NewConnection(ctx, &cfg.Common.Storage.PostgreSQL, logger, false)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		return &commands.CLIDependencies{
			DB:       db,
			Migrator: postgres.NewMigrator(db.DB()),
			Logger:   logger,
		}, nil
	}

	db, err := setup.OpenDatabase(ctx, &cfg.Common.Storage, logger)
	if err != nil {
		return nil, err
	}

	return &commands.CLIDependencies{DB: db, Logger: logger}, nil
}
