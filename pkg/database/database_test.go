package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriverFor(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"postgres://rampart@localhost/rampart", DriverPostgres},
		{"postgresql://rampart@localhost/rampart", DriverPostgres},
		{":memory:", DriverSQLite},
		{"file:rampart.db?cache=shared", DriverSQLite},
		{"/var/lib/rampart/rampart.db", DriverSQLite},
		{"host=localhost dbname=rampart", DriverPostgres},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, DriverFor(tt.url))
		})
	}
}

func TestOpenSQLite(t *testing.T) {
	db, err := Open(context.Background(), Config{URL: ":memory:"})
	require.NoError(t, err)
	defer db.Close()

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
	assert.Equal(t, DriverSQLite, Dialect(db))
}

func TestOpenSQLiteEnablesForeignKeysOnEveryConnection(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{URL: filepath.Join(t.TempDir(), "rampart.db")})
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(3)

	var conns []*sql.Conn
	for i := 0; i < 3; i++ {
		conn, err := db.Conn(ctx)
		require.NoError(t, err)
		conns = append(conns, conn)

		var fk int
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
		assert.Equal(t, 1, fk, "connection %d", i)
	}
	for _, conn := range conns {
		require.NoError(t, conn.Close())
	}
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{":memory:", ":memory:?_foreign_keys=on&_txlock=immediate"},
		{"file:rampart.db?cache=shared", "file:rampart.db?cache=shared&_foreign_keys=on&_txlock=immediate"},
		{"rampart.db?_foreign_keys=off", "rampart.db?_foreign_keys=off&_txlock=immediate"},
		{"rampart.db?_foreign_keys=on&_txlock=deferred", "rampart.db?_foreign_keys=on&_txlock=deferred"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, SQLiteDSN(tt.url))
		})
	}
}

func TestDialectDefaultsToPostgres(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, DriverPostgres, Dialect(db))
}

func TestIsUniqueViolation(t *testing.T) {
	db, err := Open(context.Background(), Config{Driver: DriverSQLite, URL: ":memory:"})
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE t (a INTEGER NOT NULL, b INTEGER NOT NULL, UNIQUE(a, b))`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO t (a, b) VALUES (1, 2)`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO t (a, b) VALUES (1, 2)`)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))

	_, err = db.Exec(`INSERT INTO t (a, b) VALUES (NULL, 2)`)
	require.Error(t, err)
	assert.False(t, IsUniqueViolation(err), "NOT NULL failures are not unique violations")

	assert.False(t, IsUniqueViolation(nil))
}
