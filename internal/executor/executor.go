// Package executor runs generated SQL against a target database.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver
	_ "github.com/mattn/go-sqlite3"     // SQLite driver

	"github.com/kyleking/text2sql-router/internal/config"
	"github.com/kyleking/text2sql-router/internal/errors"
	"github.com/kyleking/text2sql-router/internal/logging"
	"github.com/kyleking/text2sql-router/internal/sqlcheck"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite3"
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
)

// SuccessMessage is reported for statements that return no rows
const SuccessMessage = "Query executed successfully."

// Result holds either the rows of a SELECT or a status message
type Result struct {
	Columns   []string         `json:"columns,omitempty"`
	Rows      []map[string]any `json:"results,omitempty"`
	Message   string           `json:"message,omitempty"`
	Truncated bool             `json:"truncated,omitempty"`
}

// Executor runs a single statement
type Executor interface {
	Execute(ctx context.Context, query string) (*Result, error)
	Close() error
}

// Options bound what an executor may do
type Options struct {
	ReadOnly     bool
	QueryTimeout time.Duration
	MaxRows      int
}

// New opens the executor named by cfg.Driver
func New(ctx context.Context, cfg config.ExecutorConfig) (Executor, error) {
	opts := Options{
		ReadOnly:     cfg.ReadOnly,
		QueryTimeout: config.Duration(cfg.QueryTimeout, 30*time.Second),
		MaxRows:      cfg.MaxRows,
	}

	log := logging.WithFields(map[string]any{"driver": cfg.Driver, "read_only": cfg.ReadOnly})

	switch cfg.Driver {
	case DriverSQLite, DriverDuckDB:
		exec, err := OpenSQL(ctx, cfg.Driver, config.ExpandPath(cfg.DSN), opts)
		if err != nil {
			return nil, err
		}

		log.Debug("Opened execution database")

		return exec, nil
	case DriverPostgres:
		exec, err := OpenPostgres(ctx, cfg.DSN, opts)
		if err != nil {
			return nil, err
		}

		log.Debug("Connected to execution database")

		return exec, nil
	default:
		return nil, errors.NewConfigError(fmt.Sprintf("unsupported executor driver: %s", cfg.Driver), "executor.driver")
	}
}

// IsSelect reports whether query is a SELECT statement, ignoring case and
// leading whitespace
func IsSelect(query string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(query)), "select")
}

// SQLExecutor runs statements through database/sql
type SQLExecutor struct {
	db     *sql.DB
	driver string
	opts   Options
}

// OpenSQL opens a sqlite3 or duckdb file. File-backed databases must already
// exist; creating an empty one would hide a wrong DSN. With opts.ReadOnly the
// connection itself is opened read-only.
func OpenSQL(ctx context.Context, driver, dsn string, opts Options) (*SQLExecutor, error) {
	path, _, _ := strings.Cut(dsn, "?")
	inMemory := path == "" || path == ":memory:"

	if !inMemory && !strings.HasPrefix(path, "file:") {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Wrapf(err, errors.ErrTypeNotFound, "database file %s", filepath.Clean(path))
		}
	}

	if opts.ReadOnly {
		dsn = readOnlyDSN(driver, dsn, inMemory)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to open database")
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to ping database")
	}

	return &SQLExecutor{db: db, driver: driver, opts: opts}, nil
}

// Execute runs query. SELECT statements return rows; anything else reports
// SuccessMessage.
func (e *SQLExecutor) Execute(ctx context.Context, query string) (*Result, error) {
	if err := e.opts.guard(query); err != nil {
		return nil, err
	}

	ctx, cancel := e.opts.withTimeout(ctx)
	defer cancel()

	if !IsSelect(query) {
		if _, err := e.db.ExecContext(ctx, query); err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeDatabase, "query failed")
		}

		return &Result{Message: SuccessMessage}, nil
	}

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "query failed")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to read columns")
	}

	result := &Result{Columns: columns, Rows: []map[string]any{}}

	for rows.Next() {
		if e.opts.MaxRows > 0 && len(result.Rows) >= e.opts.MaxRows {
			result.Truncated = true
			break
		}

		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))

		for i := range values {
			ptrs[i] = &values[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to scan row")
		}

		result.Rows = append(result.Rows, toRow(columns, values))
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "query failed")
	}

	return result, nil
}

// Close releases the database handle
func (e *SQLExecutor) Close() error {
	return e.db.Close()
}

// readOnlyDSN adds the driver's read-only connection setting. DuckDB cannot
// open an in-memory database read-only, so that case relies on the guard.
func readOnlyDSN(driver, dsn string, inMemory bool) string {
	var param string

	switch driver {
	case DriverSQLite:
		param = "_query_only=true"
	case DriverDuckDB:
		if inMemory {
			return dsn
		}

		param = "access_mode=READ_ONLY"
	default:
		return dsn
	}

	if strings.Contains(dsn, "?") {
		return dsn + "&" + param
	}

	return dsn + "?" + param
}

func (o Options) guard(query string) error {
	n := sqlcheck.CountStatements(query)
	if n == 0 {
		return errors.New(errors.ErrTypeValidation, "query is empty")
	}

	if n > 1 {
		return errors.New(errors.ErrTypeValidation, "only one statement may be executed at a time")
	}

	if o.ReadOnly && !IsSelect(query) {
		return errors.New(errors.ErrTypeValidation, "executor is read-only; only SELECT statements are allowed")
	}

	return nil
}

func (o Options) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, o.QueryTimeout)
}

// toRow keys values by column name; text returned as bytes becomes a string
func toRow(columns []string, values []any) map[string]any {
	row := make(map[string]any, len(columns))

	for i, col := range columns {
		if b, ok := values[i].([]byte); ok {
			row[col] = string(b)
			continue
		}

		row[col] = values[i]
	}

	return row
}
