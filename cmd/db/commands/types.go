package commands

import (
	"errors"

	"github.com/robalyx/reactor/internal/database"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"
)

var (
	ErrNameRequired        = errors.New("NAME argument required")
	ErrUserIDRequired      = errors.New("USER_ID argument required")
	ErrMigratorUnavailable = errors.New("migrations are only available with the postgres driver")
)

// CLIDependencies holds the common dependencies needed by CLI commands.
// Migrator is nil when the configured storage is not PostgreSQL.
type CLIDependencies struct {
	DB       database.Client
	Migrator *migrate.Migrator
	Logger   *zap.Logger
}
