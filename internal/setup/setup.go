package setup

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/redis/rueidis"
	"github.com/robalyx/reactor/internal/database"
	"github.com/robalyx/reactor/internal/database/postgres"
	"github.com/robalyx/reactor/internal/database/sqlite"
	"github.com/robalyx/reactor/internal/redis"
	"github.com/robalyx/reactor/internal/setup/config"
	"github.com/robalyx/reactor/internal/setup/telemetry"
	"go.uber.org/zap"
)

// ErrUnknownDriver is returned when the storage driver is neither sqlite nor postgres.
var ErrUnknownDriver = errors.New("unknown storage driver")

// App bundles all core dependencies and services needed by the application.
// Each field represents a major subsystem that needs initialization and cleanup.
type App struct {
	Config       *config.Config     // Application configuration
	Logger       *zap.Logger        // Main application logger
	DBLogger     *zap.Logger        // Database-specific logger
	DB           database.Client    // Selected storage backend
	RedisManager *redis.Manager     // Redis connection manager
	StatusClient rueidis.Client     // Redis client for worker status reporting
	LogManager   *telemetry.Manager // Log management system
}

// InitializeApp bootstraps all application dependencies in the correct order,
// ensuring each component has its required dependencies available.
// Workers can provide their type for log file naming.
func InitializeApp(
	ctx context.Context, serviceType telemetry.ServiceType, logDir string, workerType ...string,
) (*App, error) {
	// Load app configuration
	cfg, _, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	var wt string
	if len(workerType) > 0 {
		wt = workerType[0]
	}

	// Logging system is initialized next to capture setup issues
	logManager := telemetry.NewManager(serviceType, logDir, &cfg.Common.Debug, &cfg.Common.Telemetry, wt)

	logger, dbLogger, err := logManager.GetLoggers()
	if err != nil {
		return nil, err
	}

	// Redis manager provides connection pools for locks, caches and worker status
	redisManager := redis.NewManager(&cfg.Common.Redis, logger)

	db, err := OpenDatabase(ctx, &cfg.Common.Storage, dbLogger)
	if err != nil {
		redisManager.Close()
		return nil, err
	}

	statusClient, err := redisManager.GetClient(redis.WorkerStatusDBIndex)
	if err != nil {
		_ = db.Close()
		redisManager.Close()
		return nil, err
	}

	return &App{
		Config:       cfg,
		Logger:       logger,
		DBLogger:     dbLogger.Named("database"),
		DB:           db,
		RedisManager: redisManager,
		StatusClient: statusClient,
		LogManager:   logManager,
	}, nil
}

// OpenDatabase selects the storage backend once from configuration.
// PostgreSQL migrations are applied automatically; SQLite bootstraps its embedded schema.
func OpenDatabase(ctx context.Context, cfg *config.Storage, logger *zap.Logger) (database.Client, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		db, err := postgres.NewConnection(ctx, &cfg.PostgreSQL, logger, true)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		return db, nil
	case config.DriverSQLite, "":
		db, err := sqlite.Open(ctx, &cfg.SQLite, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// Cleanup ensures graceful shutdown of all components in reverse initialization order.
// Logs but does not fail on cleanup errors to ensure all components get cleanup attempts.
func (s *App) Cleanup(ctx context.Context) {
	// Sync buffered logs before shutdown
	if err := s.Logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	if err := s.DBLogger.Sync(); err != nil {
		log.Printf("Failed to sync DB logger: %v", err)
	}

	// Flush pending spans
	s.LogManager.Stop(ctx)

	if err := s.DB.Close(); err != nil {
		log.Printf("Failed to close database connection: %v", err)
	}

	// Close Redis connections last as other components might need it during cleanup
	s.RedisManager.Close()
}
