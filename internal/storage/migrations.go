package storage

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	sq "github.com/Masterminds/squirrel"

	"github.com/kyleking/text2sql-router/internal/logging"
)

const migrationsTable = "schema_migrations"

// Migration is one versioned schema change of the embedding store
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Create schema embeddings table",
		Up: `
			CREATE TABLE IF NOT EXISTS schema_embeddings (
				provider VARCHAR NOT NULL,
				text_hash VARCHAR NOT NULL,
				text TEXT NOT NULL,
				embedding TEXT NOT NULL,
				dimensions INTEGER NOT NULL,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (provider, text_hash)
			);`,
		Down: `DROP TABLE IF EXISTS schema_embeddings;`,
	},
	{
		Version:     2,
		Description: "Index embeddings by creation time",
		Up:          `CREATE INDEX IF NOT EXISTS idx_schema_embeddings_created_at ON schema_embeddings(created_at);`,
		Down:        `DROP INDEX IF EXISTS idx_schema_embeddings_created_at;`,
	},
}

// Migrator applies and reverts the store's migrations, recording applied
// versions in schema_migrations
type Migrator struct {
	db *sql.DB
}

// NewMigrator wraps an open DuckDB handle
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Migrations returns the known migrations in version order
func (m *Migrator) Migrations() []Migration {
	return slices.Clone(migrations)
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+migrationsTable+` (
			version INTEGER PRIMARY KEY,
			description VARCHAR NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`)
	if err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	return nil
}

// Applied returns the applied versions in ascending order
func (m *Migrator) Applied(ctx context.Context) ([]int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}

	rows, err := sq.Select("version").From(migrationsTable).OrderBy("version").
		RunWith(m.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	var versions []int

	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}

		versions = append(versions, v)
	}

	return versions, rows.Err()
}

// Up applies every pending migration, each in its own transaction
func (m *Migrator) Up(ctx context.Context) error {
	applied, err := m.Applied(ctx)
	if err != nil {
		return err
	}

	for _, mig := range migrations {
		if slices.Contains(applied, mig.Version) {
			continue
		}

		logging.WithFields(map[string]any{"version": mig.Version, "description": mig.Description}).
			Info("Applying migration")

		record := sq.Insert(migrationsTable).Columns("version", "description").Values(mig.Version, mig.Description)
		if err := m.inTx(ctx, mig.Up, record); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", mig.Version, err)
		}
	}

	return nil
}

// Down reverts applied migrations newer than target, newest first
func (m *Migrator) Down(ctx context.Context, target int) error {
	applied, err := m.Applied(ctx)
	if err != nil {
		return err
	}

	for i := len(applied) - 1; i >= 0 && applied[i] > target; i-- {
		idx := slices.IndexFunc(migrations, func(mig Migration) bool { return mig.Version == applied[i] })
		if idx < 0 {
			return fmt.Errorf("migration %d not found", applied[i])
		}

		mig := migrations[idx]

		logging.WithFields(map[string]any{"version": mig.Version, "description": mig.Description}).
			Info("Rolling back migration")

		remove := sq.Delete(migrationsTable).Where(sq.Eq{"version": mig.Version})
		if err := m.inTx(ctx, mig.Down, remove); err != nil {
			return fmt.Errorf("failed to roll back migration %d: %w", mig.Version, err)
		}
	}

	return nil
}

// Pending returns the migrations Up would apply
func (m *Migrator) Pending(ctx context.Context) ([]Migration, error) {
	applied, err := m.Applied(ctx)
	if err != nil {
		return nil, err
	}

	var pending []Migration

	for _, mig := range migrations {
		if !slices.Contains(applied, mig.Version) {
			pending = append(pending, mig)
		}
	}

	return pending, nil
}

func (m *Migrator) inTx(ctx context.Context, ddl string, record sq.Sqlizer) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return err
	}

	query, args, err := record.ToSql()
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return err
	}

	return tx.Commit()
}
