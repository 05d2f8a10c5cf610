package embedding

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/kyleking/text2sql-router/internal/config"
	"github.com/kyleking/text2sql-router/internal/logging"
	"github.com/kyleking/text2sql-router/internal/python"
)

// embedWorker is the slice of python.Worker the local provider needs.
type embedWorker interface {
	Call(ctx context.Context, input, out any) error
	Close() error
}

type workerStarter func(args ...string) (embedWorker, error)

// LocalProvider implements embedding generation using the bundled
// sentence-transformers script. One worker process keeps the model loaded
// across calls; it is started on first use and restarted after it fails.
type LocalProvider struct {
	model      string
	start      workerStarter
	timeout    time.Duration
	dimensions int
	batchSize  int

	mu     sync.Mutex
	worker embedWorker
	closed bool
}

// embeddingResult represents the JSON response from embed.py
type embeddingResult struct {
	Embeddings [][]float64 `json:"embeddings"`
	Model      string      `json:"model"`
	Dimension  int         `json:"dimension"`
	Count      int         `json:"count"`
}

// NewLocalProvider creates a new local embedding provider running in env
func NewLocalProvider(cfg config.EmbeddingConfig, env *python.Environment) *LocalProvider {
	return newLocalProvider(cfg, func(args ...string) (embedWorker, error) {
		w, err := env.StartWorker(python.EmbedScript, args...)
		if err != nil {
			return nil, err
		}

		return w, nil
	})
}

func newLocalProvider(cfg config.EmbeddingConfig, start workerStarter) *LocalProvider {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}

	return &LocalProvider{
		model:      cfg.Model,
		start:      start,
		timeout:    config.Duration(cfg.Timeout, 60*time.Second),
		dimensions: cfg.Dimensions,
		batchSize:  batchSize,
	}
}

// GenerateEmbedding generates an embedding for the given text
func (p *LocalProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.run(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	return embeddings[0], nil
}

// GenerateEmbeddings generates embeddings for multiple texts, one script run per batch
func (p *LocalProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += p.batchSize {
		end := min(start+p.batchSize, len(texts))

		batch, err := p.run(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}

		embeddings = append(embeddings, batch...)
	}

	return embeddings, nil
}

func (p *LocalProvider) run(ctx context.Context, texts []string) ([][]float32, error) {
	worker, err := p.acquire()
	if err != nil {
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var result embeddingResult

	if err := worker.Call(ctx, texts, &result); err != nil {
		var scriptErr *python.ScriptError
		if !errors.As(err, &scriptErr) {
			p.discard(worker)
		}

		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("embedding generation timeout after %v", p.timeout)
		}

		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}

	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}

	if p.dimensions > 0 && result.Dimension != p.dimensions {
		return nil, fmt.Errorf("dimension mismatch: expected %d, got %d", p.dimensions, result.Dimension)
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		embeddings[i] = toFloat32(emb)
	}

	return embeddings, nil
}

func (p *LocalProvider) acquire() (embedWorker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("local provider is closed")
	}

	if p.worker == nil {
		w, err := p.start("--model", p.model, "--serve", "--batch-size", strconv.Itoa(p.batchSize))
		if err != nil {
			return nil, err
		}

		p.worker = w
	}

	return p.worker, nil
}

// discard drops a worker that can no longer serve so the next call starts another
func (p *LocalProvider) discard(w embedWorker) {
	p.mu.Lock()
	if p.worker == w {
		p.worker = nil
	}
	p.mu.Unlock()

	if err := w.Close(); err != nil {
		logging.WithError(err).Debug("Failed to stop embedding worker")
	}
}

// Close stops the worker process
func (p *LocalProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true

	if p.worker == nil {
		return nil
	}

	err := p.worker.Close()
	p.worker = nil

	return err
}

// GetDimensions returns the dimensionality of embeddings produced by this provider
func (p *LocalProvider) GetDimensions() int {
	return p.dimensions
}

// IsEnabled returns whether the provider is enabled and ready to use
func (p *LocalProvider) IsEnabled() bool {
	return p.start != nil
}

// GetName returns the provider name for identification
func (p *LocalProvider) GetName() string {
	return fmt.Sprintf("local:%s", p.model)
}
