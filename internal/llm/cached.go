package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kyleking/text2sql-router/internal/cache"
	"github.com/kyleking/text2sql-router/internal/logging"
)

// CachedGenerator serves repeated prompts from a completion cache
type CachedGenerator struct {
	inner Generator
	cache cache.Cache
	ttl   time.Duration
}

var _ Generator = (*CachedGenerator)(nil)

// NewCachedGenerator wraps inner. A zero ttl uses the cache default.
func NewCachedGenerator(inner Generator, c cache.Cache, ttl time.Duration) *CachedGenerator {
	return &CachedGenerator{inner: inner, cache: c, ttl: ttl}
}

// Name reports the wrapped generator's name so cache keys stay per-model
func (g *CachedGenerator) Name() string {
	return g.inner.Name()
}

// Generate returns the cached completion for prompt or asks the wrapped
// generator and stores its answer. Cache failures fall through to the backend.
func (g *CachedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	key := g.inner.Name() + "|" + prompt
	log := logging.WithField("generator", g.inner.Name())

	data, err := g.cache.Get(ctx, key)
	switch {
	case err == nil && strings.TrimSpace(string(data)) == "":
		// A blank completion is never useful; evict it and ask again.
		if err := g.cache.Delete(ctx, key); err != nil {
			log.WithError(err).Warn("Failed to evict blank completion")
		}
	case err == nil:
		log.Debug("Completion cache hit")
		return string(data), nil
	case errors.Is(err, cache.ErrMiss):
	default:
		log.WithError(err).Warn("Completion cache lookup failed")
	}

	text, err := g.inner.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}

	if err := g.cache.Set(ctx, key, []byte(text), g.ttl); err != nil {
		log.WithError(err).Warn("Failed to store completion")
	}

	return text, nil
}

// Close releases the underlying cache
func (g *CachedGenerator) Close() error {
	return g.cache.Close()
}
