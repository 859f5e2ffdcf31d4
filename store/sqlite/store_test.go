package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/tally/store"
	"github.com/xraph/tally/store/sqlite"
	"github.com/xraph/tally/store/storetest"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(t.Context(), filepath.Join(t.TempDir(), "tally.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(t.Context()))
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openStore(t)
	})
}

func TestInMemory(t *testing.T) {
	s, err := sqlite.Open(t.Context(), "file::memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Migrate(t.Context()))
	require.NoError(t, s.Ping(t.Context()))
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openStore(t)
	defer s.Close()

	require.NoError(t, s.Migrate(t.Context()))

	var n int64
	require.NoError(t, sqlitedriver.Unwrap(s.DB()).
		NewRaw(`SELECT COUNT(*) FROM grove_migrations WHERE "group" = ?`, sqlite.Migrations.Name()).
		Scan(t.Context(), &n))
	assert.Equal(t, int64(len(sqlite.Migrations.Migrations())), n)
}

func TestForeignKeysEnabled(t *testing.T) {
	s := openStore(t)
	defer s.Close()

	var on int
	require.NoError(t, sqlitedriver.Unwrap(s.DB()).NewRaw("PRAGMA foreign_keys").Scan(t.Context(), &on))
	assert.Equal(t, 1, on)
}
