package executor

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadOnlyDSN(t *testing.T) {
	tests := []struct {
		name     string
		driver   string
		dsn      string
		inMemory bool
		want     string
	}{
		{"sqlite file", DriverSQLite, "data/db.sqlite", false, "data/db.sqlite?_query_only=true"},
		{"sqlite with params", DriverSQLite, "db.sqlite?cache=shared", false, "db.sqlite?cache=shared&_query_only=true"},
		{"duckdb file", DriverDuckDB, "db.duckdb", false, "db.duckdb?access_mode=READ_ONLY"},
		{"duckdb in memory", DriverDuckDB, "", true, ""},
		{"other driver", DriverPostgres, "postgres://x", false, "postgres://x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, readOnlyDSN(tt.driver, tt.dsn, tt.inMemory))
		})
	}
}

func TestReadOnlySQLiteConnectionRefusesWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.sqlite")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)

	_, err = db.Exec("create table singer (name text)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	ctx := context.Background()

	exec, err := OpenSQL(ctx, DriverSQLite, path, Options{ReadOnly: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = exec.Close() })

	// bypasses the statement guard
	_, err = exec.db.ExecContext(ctx, "insert into singer values ('x')")
	require.Error(t, err)

	result, err := exec.Execute(ctx, "select count(*) as n from singer")
	require.NoError(t, err)
	assert.EqualValues(t, 0, result.Rows[0]["n"])
}
