package embedding

import (
	"context"
	"fmt"

	"github.com/kyleking/text2sql-router/internal/config"
	"github.com/kyleking/text2sql-router/internal/errors"
	"github.com/kyleking/text2sql-router/internal/python"
)

// NewProvider builds the provider named by cfg.Provider. The local provider
// prepares its Python environment under the cache directory first.
func NewProvider(ctx context.Context, cfg config.EmbeddingConfig) (Provider, error) {
	switch cfg.Provider {
	case "local":
		uvPath, err := python.FindUV()
		if err != nil {
			return nil, err
		}

		env, err := python.EnsureEnvironment(ctx, uvPath, config.GetCacheDir())
		if err != nil {
			return nil, err
		}

		return NewLocalProvider(cfg, env), nil
	case "ollama":
		return NewOllamaProvider(cfg), nil
	case "genai":
		provider, err := NewGenAIProvider(ctx, cfg)
		if err != nil {
			return nil, errors.NewBackendError(err, "genai embedding")
		}

		return provider, nil
	case "hash":
		return NewHashProvider(cfg.Dimensions), nil
	default:
		return nil, errors.NewConfigError(fmt.Sprintf("unsupported embedding provider: %s", cfg.Provider), "embedding.provider")
	}
}
