package storage

import (
	"context"
	"fmt"

	"github.com/kyleking/text2sql-router/internal/embedding"
	"github.com/kyleking/text2sql-router/internal/logging"
)

// CachedProvider is a read-through embedding.Provider backed by a Store.
// Entries are keyed by the wrapped provider's name, so switching models never
// returns stale vectors.
type CachedProvider struct {
	inner embedding.Provider
	store Store
}

var _ embedding.Provider = (*CachedProvider)(nil)

// NewCachedProvider wraps inner with store
func NewCachedProvider(inner embedding.Provider, store Store) *CachedProvider {
	return &CachedProvider{inner: inner, store: store}
}

func (p *CachedProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	return embeddings[0], nil
}

// GenerateEmbeddings serves stored vectors and embeds only the misses. Store
// failures degrade to calling the wrapped provider.
func (p *CachedProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	name := p.inner.GetName()
	log := logging.WithField("provider", name)

	cached, err := p.store.Get(ctx, name, texts)
	if err != nil {
		log.WithError(err).Warn("Embedding store lookup failed")

		cached = map[string][]float32{}
	}

	var misses []string

	pending := make(map[string]struct{})

	for _, text := range texts {
		if _, ok := cached[text]; ok {
			continue
		}

		if _, ok := pending[text]; !ok {
			pending[text] = struct{}{}
			misses = append(misses, text)
		}
	}

	if len(misses) > 0 {
		fresh, err := p.inner.GenerateEmbeddings(ctx, misses)
		if err != nil {
			return nil, err
		}

		if len(fresh) != len(misses) {
			return nil, fmt.Errorf("%s returned %d embeddings for %d texts", name, len(fresh), len(misses))
		}

		entries := make(map[string][]float32, len(misses))
		for i, text := range misses {
			entries[text] = fresh[i]
			cached[text] = fresh[i]
		}

		if err := p.store.PutMany(ctx, name, entries); err != nil {
			log.WithError(err).Warn("Failed to persist embeddings")
		}
	}

	log.WithFields(map[string]any{
		"requested": len(texts),
		"computed":  len(misses),
	}).Debug("Resolved embeddings")

	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = cached[text]
	}

	return embeddings, nil
}

func (p *CachedProvider) GetDimensions() int {
	return p.inner.GetDimensions()
}

func (p *CachedProvider) IsEnabled() bool {
	return p.inner.IsEnabled()
}

func (p *CachedProvider) GetName() string {
	return p.inner.GetName()
}
