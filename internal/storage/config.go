package storage

import (
	"context"

	"github.com/kyleking/text2sql-router/internal/config"
	"github.com/kyleking/text2sql-router/internal/errors"
)

// OpenFromConfig opens and migrates the embedding store described by cfg
func OpenFromConfig(ctx context.Context, cfg config.StorageConfig) (*DuckDBStore, error) {
	store, err := NewDuckDBStore(config.ExpandPath(cfg.Path))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to open embedding store").
			WithSuggestion("Check storage.path or disable the store with storage.enabled=false")
	}

	if err := store.Initialize(ctx); err != nil {
		store.Close()
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to migrate embedding store")
	}

	return store, nil
}
