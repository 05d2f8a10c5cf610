// Package embedding turns text into vectors and scores them against each other.
package embedding

import (
	"context"
)

// Provider defines the interface for embedding providers
type Provider interface {
	// GenerateEmbedding generates an embedding for the given text
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)

	// GenerateEmbeddings embeds texts in order, one vector per input
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)

	// GetDimensions returns the dimensionality of embeddings produced by this provider
	GetDimensions() int

	// IsEnabled returns whether the provider is enabled and ready to use
	IsEnabled() bool

	// GetName returns the provider name for identification
	GetName() string
}

// embedSequentially adapts a single-text embed function to the batch call for
// backends without a native batch API.
func embedSequentially(
	ctx context.Context,
	texts []string,
	embed func(context.Context, string) ([]float32, error),
) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))

	for i, text := range texts {
		vec, err := embed(ctx, text)
		if err != nil {
			return nil, err
		}

		embeddings[i] = vec
	}

	return embeddings, nil
}

func toFloat32(values []float64) []float32 {
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}

	return out
}
