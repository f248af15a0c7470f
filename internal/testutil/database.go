package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/qbong1010/printer-server/internal/infrastructure/sqlite"
)

// SetupTestDB opens a throwaway cache database under t.TempDir with the
// full schema applied. The file vanishes with the test.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sqlite.NewConnection(filepath.Join(t.TempDir(), "cache_test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := sqlite.InitSchema(db); err != nil {
		t.Fatalf("failed to create test schema: %v", err)
	}

	return db
}
