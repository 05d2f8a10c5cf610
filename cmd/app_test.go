package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/text2sql-router/internal/config"
	"github.com/kyleking/text2sql-router/internal/errors"
	"github.com/kyleking/text2sql-router/internal/llm"
	"github.com/kyleking/text2sql-router/internal/pipeline"
	"github.com/kyleking/text2sql-router/internal/testutil"
)

// testConfig runs entirely offline: hash embeddings and the rule generator
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Corpus.Path = testutil.WriteCorpusFile(t)
	cfg.Embedding.Provider = "hash"
	cfg.Embedding.Dimensions = testutil.TestDimensions
	cfg.LLM.Provider = llm.ProviderRule
	cfg.Relevance.Threshold = testutil.RelevantThreshold
	cfg.Storage.Path = filepath.Join(t.TempDir(), "embeddings.duckdb")

	return cfg
}

func testPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()

	a, p, err := openPipeline(testutil.Context(t), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	return p
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()

	var names []string
	for _, c := range root.Commands {
		names = append(names, c.Name)
	}

	assert.Equal(t, []string{
		"serve", "match", "generate", "validate", "predict",
		"exec", "index", "stats", "clear", "config",
	}, names)
}

func TestOpenPipeline(t *testing.T) {
	ctx := testutil.Context(t)

	t.Run("without store", func(t *testing.T) {
		a, p, err := openPipeline(ctx, testConfig(t))
		require.NoError(t, err)
		defer a.Close()

		assert.Nil(t, a.store)
		assert.Equal(t, 3, p.Corpus().Len())
		assert.Equal(t, "hash:1024", a.provider.GetName())
	})

	t.Run("with store", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Storage.Enabled = true

		a, _, err := openPipeline(ctx, cfg)
		require.NoError(t, err)
		defer a.Close()

		require.NotNil(t, a.store)

		stats, err := a.store.Stats(ctx)
		require.NoError(t, err)
		assert.Positive(t, stats.TotalEmbeddings)
	})

	t.Run("missing corpus", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Corpus.Path = filepath.Join(t.TempDir(), "missing.json")

		_, _, err := openPipeline(ctx, cfg)
		assert.Error(t, err)
	})

	t.Run("unknown generator", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.LLM.Provider = "gpt-j"

		_, _, err := openPipeline(ctx, cfg)
		assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
	})
}

func TestValidateInput(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		wantErr string
	}{
		{name: "valid", input: matchInput{Question: "q", Top: 3}},
		{name: "missing question", input: matchInput{Top: 1}, wantErr: "question is required"},
		{name: "top too small", input: matchInput{Question: "q"}, wantErr: "top must satisfy min=1"},
		{name: "top too large", input: matchInput{Question: "q", Top: 51}, wantErr: "top must satisfy max=50"},
		{name: "unknown format", input: predictInput{Questions: "q.txt", Format: "csv"}, wantErr: "format must satisfy oneof=tsv json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateInput(tt.input)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRunConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.APIKey = "sk-test-123456"

	var buf bytes.Buffer
	require.NoError(t, runConfig(&buf, cfg))

	out := buf.String()
	for _, want := range []string{
		"Active Configuration:",
		"Corpus:",
		"Path: data/tables.json",
		"Provider: local",
		"Provider: ollama",
		"Model: sqlcoder:7b",
		"API Key: sk-t****",
		"Cache: disabled",
		"Relevance Threshold: 0.35",
		"Projector Top K: 1 (margin 0.05)",
		"Driver: sqlite3",
		"Address: 0.0.0.0:8000",
		"Level: info",
	} {
		assert.Contains(t, out, want)
	}

	assert.NotContains(t, out, "sk-test-123456")
	assert.NotContains(t, out, "Raw Configuration")

	cfg.Debug.Enabled = true
	buf.Reset()
	require.NoError(t, runConfig(&buf, cfg))
	assert.Contains(t, buf.String(), "Raw Configuration (JSON):")
	assert.NotContains(t, buf.String(), "sk-test-123456")
}

func TestRunSaveConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	t.Setenv("TEXT2SQL_CONFIG", configPath)

	cfg := config.DefaultConfig()
	cfg.Relevance.Threshold = 0

	var buf bytes.Buffer
	require.NoError(t, runSaveConfig(&buf, cfg))
	assert.Equal(t, "Configuration saved to "+configPath+"\n", buf.String())

	loaded, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Zero(t, loaded.Relevance.Threshold)
}
