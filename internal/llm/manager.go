package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/kyleking/text2sql-router/internal/cache"
	"github.com/kyleking/text2sql-router/internal/config"
	"github.com/kyleking/text2sql-router/internal/errors"
	"github.com/kyleking/text2sql-router/internal/logging"
)

const (
	completionCacheMaxMB   = 64
	completionCacheCleanup = time.Hour
)

// NewGenerator builds the generator named by cfg.Provider and, when
// cfg.CacheDir is set, fronts it with the on-disk completion cache.
func NewGenerator(ctx context.Context, cfg config.LLMConfig) (Generator, error) {
	var (
		gen Generator
		err error
	)

	switch cfg.Provider {
	case ProviderOllama, ProviderOpenAI, ProviderAnthropic:
		gen, err = NewClient(cfg)
	case ProviderGenAI:
		gen, err = NewGenAIGenerator(ctx, cfg)
		if err != nil {
			err = errors.NewBackendError(err, ProviderGenAI)
		}
	case ProviderRule:
		gen = NewRuleGenerator()
	default:
		err = errors.NewConfigError(fmt.Sprintf("unsupported LLM provider: %s", cfg.Provider), "llm.provider")
	}

	if err != nil {
		return nil, err
	}

	if cfg.CacheDir == "" {
		return gen, nil
	}

	fc, err := OpenCompletionCache(cfg, completionCacheCleanup)
	if err != nil {
		return nil, err
	}

	logging.WithFields(map[string]any{
		"generator": gen.Name(),
		"cache_dir": cfg.CacheDir,
	}).Debug("Completion cache enabled")

	return NewCachedGenerator(gen, fc, config.Duration(cfg.CacheTTL, 24*time.Hour)), nil
}

// OpenCompletionCache opens the cache under cfg.CacheDir. A zero cleanup
// interval skips the background sweep, which suits one-shot commands.
func OpenCompletionCache(cfg config.LLMConfig, cleanup time.Duration) (*cache.FileCache, error) {
	if cfg.CacheDir == "" {
		return nil, errors.NewConfigError("completion cache is disabled", "llm.cache_dir")
	}

	ttl := config.Duration(cfg.CacheTTL, 24*time.Hour)

	fc, err := cache.NewFileCache(cfg.CacheDir, completionCacheMaxMB, ttl, cleanup)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeFileSystem, "failed to open completion cache")
	}

	return fc, nil
}
