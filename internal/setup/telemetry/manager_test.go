package telemetry_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/robalyx/reactor/internal/setup/config"
	"github.com/robalyx/reactor/internal/setup/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerGetLoggers(t *testing.T) {
	t.Parallel()

	logDir := t.TempDir()

	// Pre-existing sessions beyond the retention limit
	for _, name := range []string{"old-1", "old-2", "old-3"} {
		require.NoError(t, os.MkdirAll(filepath.Join(logDir, name), os.ModePerm))
	}

	manager := telemetry.NewManager(
		telemetry.ServiceBot, logDir,
		&config.Debug{LogLevel: "debug", MaxLogsToKeep: 2},
		&config.Telemetry{}, "",
	)

	logger, dbLogger, err := manager.GetLoggers()
	require.NoError(t, err)

	logger.Info("hello")
	dbLogger.Info("query")
	_ = logger.Sync()
	_ = dbLogger.Sync()

	sessions, err := filepath.Glob(filepath.Join(logDir, "*"))
	require.NoError(t, err)
	assert.Len(t, sessions, 2, "rotation keeps the configured number of sessions")

	workerLogger := manager.GetWorkerLogger("process")
	workerLogger.Info("tick")
	_ = workerLogger.Sync()

	matches, err := filepath.Glob(filepath.Join(logDir, "*", "process.log"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
	assert.NotEmpty(t, manager.GetInstanceID())
}

func TestManagerInvalidLevel(t *testing.T) {
	t.Parallel()

	manager := telemetry.NewManager(
		telemetry.ServiceWorker, t.TempDir(),
		&config.Debug{LogLevel: "chatty", MaxLogsToKeep: 5},
		&config.Telemetry{}, "process",
	)

	_, _, err := manager.GetLoggers()
	require.Error(t, err)
}

func TestServiceTypeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "bot", telemetry.ServiceBot.String())
	assert.Equal(t, "worker", telemetry.ServiceWorker.String())
	assert.Equal(t, "db", telemetry.ServiceMigrator.String())
}
