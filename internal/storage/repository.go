package storage

import (
	"context"
	"time"
)

// Store persists embeddings keyed by provider name and text hash so corpus
// precomputation survives restarts.
type Store interface {
	Initialize(ctx context.Context) error
	Get(ctx context.Context, provider string, texts []string) (map[string][]float32, error)
	Put(ctx context.Context, provider, text string, embedding []float32) error
	PutMany(ctx context.Context, provider string, entries map[string][]float32) error
	List(ctx context.Context, provider string, limit int) ([]StoredEmbedding, error)
	Stats(ctx context.Context) (*Stats, error)
	Clear(ctx context.Context, provider string) error
	Close() error
}

// StoredEmbedding is one row of the schema_embeddings table
type StoredEmbedding struct {
	Provider   string    `json:"provider"`
	TextHash   string    `json:"text_hash"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding"`
	Dimensions int       `json:"dimensions"`
	CreatedAt  time.Time `json:"created_at"`
}

// Stats represents database statistics
type Stats struct {
	TotalEmbeddings int            `json:"total_embeddings"`
	Providers       map[string]int `json:"providers"`
	LastWrite       time.Time      `json:"last_write"`
	DatabaseSizeMB  float64        `json:"database_size_mb"`
}
