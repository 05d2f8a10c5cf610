package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb" // DuckDB driver

	"github.com/kyleking/text2sql-router/internal/logging"
)

const embeddingsTable = "schema_embeddings"

// DuckDBStore implements Store on a DuckDB file
type DuckDBStore struct {
	db   *sql.DB
	path string
}

// NewDuckDBStore opens (creating if needed) the DuckDB file at dbPath
func NewDuckDBStore(dbPath string) (*DuckDBStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DuckDBStore{db: db, path: dbPath}, nil
}

// Initialize brings the schema up to the latest migration
func (s *DuckDBStore) Initialize(ctx context.Context) error {
	return NewMigrator(s.db).Up(ctx)
}

// HashText returns the key a text is stored under.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Get returns the stored embeddings for texts under provider, keyed by text.
// Texts without a stored embedding are absent from the result.
func (s *DuckDBStore) Get(ctx context.Context, provider string, texts []string) (map[string][]float32, error) {
	result := make(map[string][]float32, len(texts))
	if len(texts) == 0 {
		return result, nil
	}

	byHash := make(map[string]string, len(texts))
	hashes := make([]string, 0, len(texts))

	for _, text := range texts {
		h := HashText(text)
		if _, seen := byHash[h]; !seen {
			hashes = append(hashes, h)
		}

		byHash[h] = text
	}

	query, args, err := sq.Select("text_hash", "embedding").
		From(embeddingsTable).
		Where(sq.Eq{"provider": provider, "text_hash": hashes}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build lookup query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hash, raw string
		if err := rows.Scan(&hash, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}

		var vec []float32
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			logging.WithField("text_hash", hash).WithError(err).Warn("Skipping corrupt stored embedding")
			continue
		}

		result[byHash[hash]] = vec
	}

	return result, rows.Err()
}

// Put stores one embedding; an existing row for the same key is kept
func (s *DuckDBStore) Put(ctx context.Context, provider, text string, embedding []float32) error {
	return s.PutMany(ctx, provider, map[string][]float32{text: embedding})
}

// PutMany stores embeddings keyed by text in a single transaction
func (s *DuckDBStore) PutMany(ctx context.Context, provider string, entries map[string][]float32) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	for text, vec := range entries {
		embeddingJSON, err := json.Marshal(vec)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}

		query, args, err := sq.Insert(embeddingsTable).
			Columns("provider", "text_hash", "text", "embedding", "dimensions").
			Values(provider, HashText(text), text, string(embeddingJSON), len(vec)).
			Suffix("ON CONFLICT DO NOTHING").
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build insert: %w", err)
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert embedding: %w", err)
		}
	}

	return tx.Commit()
}

// List returns the stored rows for provider, newest first
func (s *DuckDBStore) List(ctx context.Context, provider string, limit int) ([]StoredEmbedding, error) {
	builder := sq.Select("provider", "text_hash", "text", "embedding", "dimensions", "created_at").
		From(embeddingsTable).
		Where(sq.Eq{"provider": provider}).
		OrderBy("created_at DESC", "text_hash")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings: %w", err)
	}
	defer rows.Close()

	var stored []StoredEmbedding

	for rows.Next() {
		var (
			row StoredEmbedding
			raw string
		)

		if err := rows.Scan(&row.Provider, &row.TextHash, &row.Text, &raw, &row.Dimensions, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}

		if err := json.Unmarshal([]byte(raw), &row.Embedding); err != nil {
			return nil, fmt.Errorf("failed to decode embedding %s: %w", row.TextHash, err)
		}

		stored = append(stored, row)
	}

	return stored, rows.Err()
}

// Stats returns database statistics
func (s *DuckDBStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Providers: make(map[string]int)}

	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+embeddingsTable).Scan(&stats.TotalEmbeddings)
	if err != nil {
		return nil, fmt.Errorf("failed to count embeddings: %w", err)
	}

	var lastWrite *time.Time

	err = s.db.QueryRowContext(ctx, "SELECT MAX(created_at) FROM "+embeddingsTable).Scan(&lastWrite)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get last write time: %w", err)
	}

	if lastWrite != nil {
		stats.LastWrite = *lastWrite
	}

	if info, err := os.Stat(s.path); err == nil {
		stats.DatabaseSizeMB = float64(info.Size()) / (1024 * 1024)
	}

	query, args, err := sq.Select("provider", "COUNT(*)").
		From(embeddingsTable).
		GroupBy("provider").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build provider breakdown: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get provider breakdown: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			provider string
			count    int
		)

		if err := rows.Scan(&provider, &count); err != nil {
			return nil, err
		}

		stats.Providers[provider] = count
	}

	return stats, rows.Err()
}

// Clear removes stored embeddings for provider, or every row when provider is empty
func (s *DuckDBStore) Clear(ctx context.Context, provider string) error {
	builder := sq.Delete(embeddingsTable)
	if provider != "" {
		builder = builder.Where(sq.Eq{"provider": provider})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to clear embeddings: %w", err)
	}

	return nil
}

// Path returns the database file location
func (s *DuckDBStore) Path() string {
	return s.path
}

// Close closes the database connection
func (s *DuckDBStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}

	return nil
}
