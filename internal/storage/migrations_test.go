package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openRawDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("duckdb", filepath.Join(t.TempDir(), "migrations.duckdb"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestUpCreatesEmbeddingsTable(t *testing.T) {
	db := openRawDB(t)
	ctx := context.Background()
	m := NewMigrator(db)

	require.NoError(t, m.Up(ctx))

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_embeddings").Scan(&count))
	assert.Zero(t, count)

	var columnCount int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM information_schema.columns
		WHERE table_name = 'schema_embeddings'
		AND column_name IN ('provider', 'text_hash', 'text', 'embedding', 'dimensions', 'created_at')
	`).Scan(&columnCount)
	require.NoError(t, err)
	assert.Equal(t, 6, columnCount)

	applied, err := m.Applied(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, applied)
}

func TestUpIsIdempotent(t *testing.T) {
	db := openRawDB(t)
	ctx := context.Background()
	m := NewMigrator(db)

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx))

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDownRevertsToTarget(t *testing.T) {
	db := openRawDB(t)
	ctx := context.Background()
	m := NewMigrator(db)

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, len(m.Migrations()))

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Down(ctx, 1))

	applied, err := m.Applied(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, applied)

	require.NoError(t, m.Down(ctx, 0))

	applied, err = m.Applied(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)

	_, err = db.ExecContext(ctx, "SELECT COUNT(*) FROM schema_embeddings")
	assert.Error(t, err, "table should be dropped by rollback")
}
