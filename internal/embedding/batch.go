package embedding

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// EmbedAll embeds texts in batches of batchSize, running up to concurrency
// batches at once. The result is in input order; the first failing batch
// cancels the rest.
func EmbedAll(ctx context.Context, p Provider, texts []string, batchSize, concurrency int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = len(texts)
	}

	if concurrency <= 0 {
		concurrency = 1
	}

	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))

		g.Go(func() error {
			batch, err := p.GenerateEmbeddings(gctx, texts[start:end])
			if err != nil {
				return err
			}

			if len(batch) != end-start {
				return fmt.Errorf("%s returned %d embeddings for %d texts", p.GetName(), len(batch), end-start)
			}

			copy(vectors[start:end], batch)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return vectors, nil
}
