// Package sqlitetest gives tests a migrated, in-memory record store.
package sqlitetest

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/jdholdren/digest/internal/migrations"
	"github.com/jdholdren/digest/internal/sqlite"
)

// NewDB opens a fresh in-memory database with the schema applied.
//
// The pool is pinned to one connection since each in-memory connection is its own database.
func NewDB(t testing.TB) *sqlx.DB {
	t.Helper()

	dbx, err := sqlx.Open("sqlite", ":memory:?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	dbx.SetMaxOpenConns(1)
	t.Cleanup(func() { dbx.Close() })

	require.NoError(t, migrations.Run(dbx))

	return dbx
}

// NewFileDB opens a migrated database file under the test's temp dir, for tests
// that need more than one connection.
func NewFileDB(t testing.TB) *sqlx.DB {
	t.Helper()

	dbx, err := sqlite.Open(filepath.Join(t.TempDir(), "digest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbx.Close() })

	require.NoError(t, migrations.Run(dbx))

	return dbx
}

func NewRepo(t testing.TB) sqlite.Repo {
	t.Helper()

	return sqlite.New(NewDB(t))
}
