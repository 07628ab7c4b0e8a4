package migrations_test

import (
	"testing"

	"github.com/robalyx/reactor/internal/database/postgres/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsRegistered(t *testing.T) {
	t.Parallel()

	sorted := migrations.Migrations.Sorted()
	require.Len(t, sorted, 3)

	assert.Equal(t, "20260301000000", sorted[0].Name)
	assert.Equal(t, "20260301000001", sorted[1].Name)
	assert.Equal(t, "20260301000002", sorted[2].Name)

	for _, m := range sorted {
		assert.NotNil(t, m.Up, m.Name)
		assert.NotNil(t, m.Down, m.Name)
	}
}
