package testutil

import (
	"context"
	"sync"

	"github.com/kyleking/text2sql-router/internal/embedding"
)

// FakeGenerator returns a canned completion and records every prompt
type FakeGenerator struct {
	mu sync.Mutex

	completion string
	err        error
	prompts    []string
}

// GeneratorOption is a functional option for configuring FakeGenerator
type GeneratorOption func(*FakeGenerator)

// WithCompletion sets the text returned by Generate
func WithCompletion(text string) GeneratorOption {
	return func(g *FakeGenerator) {
		g.completion = text
	}
}

// WithGenerateError makes every Generate call fail with err
func WithGenerateError(err error) GeneratorOption {
	return func(g *FakeGenerator) {
		g.err = err
	}
}

// NewFakeGenerator creates a generator answering SingerCompletion by default
func NewFakeGenerator(opts ...GeneratorOption) *FakeGenerator {
	g := &FakeGenerator{completion: SingerCompletion}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Generate records the prompt and returns the configured completion
func (g *FakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.prompts = append(g.prompts, prompt)

	if g.err != nil {
		return "", g.err
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	return g.completion, nil
}

// Name identifies the fake in logs
func (g *FakeGenerator) Name() string {
	return "fake"
}

// Prompts returns a copy of every prompt received so far
func (g *FakeGenerator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	return append([]string(nil), g.prompts...)
}

// CountingProvider wraps an embedding provider, counting calls and texts and
// optionally failing every call
type CountingProvider struct {
	embedding.Provider

	mu    sync.Mutex
	calls int
	texts int
	err   error
}

// NewCountingProvider wraps a hash provider of TestDimensions
func NewCountingProvider() *CountingProvider {
	return &CountingProvider{Provider: embedding.NewHashProvider(TestDimensions)}
}

// NewFailingProvider returns a provider whose every call fails with err
func NewFailingProvider(err error) *CountingProvider {
	return &CountingProvider{Provider: embedding.NewHashProvider(TestDimensions), err: err}
}

func (c *CountingProvider) record(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++
	c.texts += n

	return c.err
}

func (c *CountingProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := c.record(1); err != nil {
		return nil, err
	}

	return c.Provider.GenerateEmbedding(ctx, text)
}

func (c *CountingProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if err := c.record(len(texts)); err != nil {
		return nil, err
	}

	return c.Provider.GenerateEmbeddings(ctx, texts)
}

// Calls returns how many embedding calls were made
func (c *CountingProvider) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.calls
}

// Texts returns how many texts were embedded across all calls
func (c *CountingProvider) Texts() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.texts
}

// Reset zeroes the counters
func (c *CountingProvider) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = 0
	c.texts = 0
}
