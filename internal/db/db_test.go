package db

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRunsMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "test.db")

	database, err := Open("sqlite", path, true)
	require.NoError(t, err)
	defer Close(database)

	for _, table := range []string{"symptoms", "goals", "mood_entries", "meditation_sessions"} {
		var count int
		err := database.Get(&count, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = $1`, table)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}
}

func TestMigrateDown(t *testing.T) {
	database, err := Open("sqlite", filepath.Join(t.TempDir(), "test.db"), true)
	require.NoError(t, err)
	defer Close(database)

	statuses, err := Status(context.Background(), database.DB, "sqlite")
	require.NoError(t, err)
	require.NotEmpty(t, statuses)
	assert.True(t, statuses[0].Applied)

	require.NoError(t, MigrateDown(context.Background(), database.DB, "sqlite"))

	var count int
	err = database.Get(&count, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'goals'`)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUnsupportedDriver(t *testing.T) {
	database, err := Open("sqlite", filepath.Join(t.TempDir(), "test.db"), false)
	require.NoError(t, err)
	defer Close(database)

	err = RunMigrations(context.Background(), database.DB, "mysql")
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestGetDialect(t *testing.T) {
	d, err := getDialect("sqlite")
	require.NoError(t, err)
	assert.Equal(t, goose.DialectSQLite3, d)

	d, err = getDialect("pgx")
	require.NoError(t, err)
	assert.Equal(t, goose.DialectPostgres, d)

	_, err = getDialect("clickhouse")
	assert.Error(t, err)
}

func TestPrepareSQLite(t *testing.T) {
	dir := t.TempDir()

	conn, err := prepareSQLite(filepath.Join(dir, "nested", "app.db"))
	require.NoError(t, err)
	assert.Contains(t, conn, "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	assert.DirExists(t, filepath.Join(dir, "nested"))

	conn, err = prepareSQLite(filepath.Join(dir, "app.db") + "?_pragma=synchronous(1)")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(conn, "?_pragma=synchronous(1)"))

	conn, err = prepareSQLite(":memory:")
	require.NoError(t, err)
	assert.Equal(t, ":memory:", conn)
}
