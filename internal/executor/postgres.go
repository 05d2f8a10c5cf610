package executor

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/kyleking/text2sql-router/internal/errors"
)

// PostgresExecutor runs statements on a pgx connection pool
type PostgresExecutor struct {
	pool *pgxpool.Pool
	opts Options
}

// OpenPostgres connects to the database at connString and pings it. With
// opts.ReadOnly every session defaults to read-only transactions.
func OpenPostgres(ctx context.Context, connString string, opts Options) (*PostgresExecutor, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "invalid postgres connection string")
	}

	if opts.ReadOnly {
		cfg.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"
	}

	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "unable to connect to database")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "unable to ping database")
	}

	return &PostgresExecutor{pool: pool, opts: opts}, nil
}

// Execute runs query with the same contract as SQLExecutor.Execute
func (e *PostgresExecutor) Execute(ctx context.Context, query string) (*Result, error) {
	if err := e.opts.guard(query); err != nil {
		return nil, err
	}

	ctx, cancel := e.opts.withTimeout(ctx)
	defer cancel()

	if !IsSelect(query) {
		if _, err := e.pool.Exec(ctx, query); err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeDatabase, "query failed")
		}

		return &Result{Message: SuccessMessage}, nil
	}

	rows, err := e.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "query failed")
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))

	for i, f := range fields {
		columns[i] = string(f.Name)
	}

	result := &Result{Columns: columns, Rows: []map[string]any{}}

	for rows.Next() {
		if e.opts.MaxRows > 0 && len(result.Rows) >= e.opts.MaxRows {
			result.Truncated = true
			break
		}

		values, err := rows.Values()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to read row")
		}

		result.Rows = append(result.Rows, toRow(columns, values))
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "query failed")
	}

	return result, nil
}

// Close releases the pool
func (e *PostgresExecutor) Close() error {
	e.pool.Close()
	return nil
}
