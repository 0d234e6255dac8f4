// Package testutil provides test fixtures shared across package tests.
package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/user/llm-proxy-go/internal/database"
)

// NewTestDB creates a fresh file-backed SQLite database with the full
// migrated schema applied. A real file (rather than :memory:) is used so
// WAL mode behaves exactly as it does in production; the temp directory
// is cleaned up automatically when the test completes.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := database.New(path)
	require.NoError(t, err, "failed to open test database")

	t.Cleanup(func() {
		db.Close()
	})

	err = database.RunMigrations(db)
	require.NoError(t, err, "failed to run migrations")

	return db
}
