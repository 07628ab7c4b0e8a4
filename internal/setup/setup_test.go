package setup_test

import (
	"path/filepath"
	"testing"

	"github.com/robalyx/reactor/internal/setup"
	"github.com/robalyx/reactor/internal/setup/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestOpenDatabaseDefaultsToSQLite(t *testing.T) {
	t.Parallel()

	db, err := setup.OpenDatabase(t.Context(), &config.Storage{
		SQLite: config.SQLite{Path: filepath.Join(t.TempDir(), "reactor.db")},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Ping(t.Context()))

	count, err := db.Actors().Count(t.Context())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestOpenDatabaseRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := setup.OpenDatabase(t.Context(), &config.Storage{Driver: "mysql"}, zaptest.NewLogger(t))
	require.ErrorIs(t, err, setup.ErrUnknownDriver)
}
