// Package testing provides testing utilities and helpers for the trade
// approval service.
package testing

import (
	"fmt"
	"os"
	"testing"

	"github.com/aristath/tradeapproval/internal/database"
)

// NewTestDB creates a temporary-file SQLite database with the embedded
// schema for name applied ("trades" is the only schema; unknown names give
// an empty database).
// Returns the database instance and a cleanup function that closes the
// connection and removes the file. The cleanup function is idempotent.
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	db, cleanup := openTempDB(t, name)

	if err := db.Migrate(); err != nil {
		cleanup()
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	return db, cleanup
}

// NewTestDBWithSchema creates a temporary-file SQLite database and executes
// schema on it directly
func NewTestDBWithSchema(t *testing.T, name string, schema string) (*database.DB, func()) {
	t.Helper()

	db, cleanup := openTempDB(t, name)

	if schema != "" {
		if _, err := db.Conn().Exec(schema); err != nil {
			cleanup()
			t.Fatalf("Failed to execute custom schema for test database %s: %v", name, err)
		}
	}

	return db, cleanup
}

func openTempDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	// Temporary files keep every test isolated
	tmpFile, err := os.CreateTemp("", fmt.Sprintf("test_%s_*.db", name))
	if err != nil {
		t.Fatalf("Failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: database.ProfileLedger,
		Name:    name,
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	closed := false
	return db, func() {
		if closed {
			return
		}
		closed = true

		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(tmpPath + suffix); err != nil && !os.IsNotExist(err) {
				t.Logf("Warning: Failed to remove temporary database file %s: %v", tmpPath+suffix, err)
			}
		}
	}
}
