package database

import (
	"context"
	"database/sql"
	"os"
	"testing"
)

// TestPostgresEnv names the variable holding a Postgres URL for tests
const TestPostgresEnv = "TEST_POSTGRES_PRIMARY"

// SkipIfNoDatabase skips the test if TEST_POSTGRES_PRIMARY is not set.
func SkipIfNoDatabase(t testing.TB) string {
	t.Helper()

	dbURL := os.Getenv(TestPostgresEnv)
	if dbURL == "" {
		t.Skip("Skipping test: TEST_POSTGRES_PRIMARY environment variable not set (database not available)")
	}

	return dbURL
}

// SkipIfNoDatabaseOrShort skips the test in short mode or without a database.
func SkipIfNoDatabaseOrShort(t testing.TB) string {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping database test in short mode")
	}

	return SkipIfNoDatabase(t)
}

// RequireDatabase connects to the Postgres named by TEST_POSTGRES_PRIMARY
// and applies migrations, or skips the test.
func RequireDatabase(t testing.TB) *sql.DB {
	t.Helper()

	dbURL := SkipIfNoDatabase(t)

	db, err := Open(context.Background(), Config{Driver: DriverPostgres, URL: dbURL})
	if err != nil {
		t.Skipf("Database not reachable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := Migrate(context.Background(), db, DriverPostgres, nil); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}

	return db
}

// NewTestSQLite returns a migrated in-memory SQLite database that is
// closed when the test ends.
func NewTestSQLite(t testing.TB) *sql.DB {
	t.Helper()

	db, err := Open(context.Background(), Config{Driver: DriverSQLite, URL: ":memory:"})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := Migrate(context.Background(), db, DriverSQLite, nil); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	return db
}

// IsDatabaseAvailable returns true if TEST_POSTGRES_PRIMARY is set (does not test connection).
func IsDatabaseAvailable() bool {
	return os.Getenv(TestPostgresEnv) != ""
}
