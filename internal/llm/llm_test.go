package llm_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/text2sql-router/internal/cache"
	"github.com/kyleking/text2sql-router/internal/config"
	apperrors "github.com/kyleking/text2sql-router/internal/errors"
	"github.com/kyleking/text2sql-router/internal/llm"
	"github.com/kyleking/text2sql-router/internal/testutil"
)

const singerSchema = "<tab>singer</tab>(<col>Singer_ID</col>, <col>Name</col>, <col>Country</col>, <col>Age</col>)"

func TestBuildPrompt(t *testing.T) {
	prompt := llm.BuildPrompt(singerSchema, testutil.SingerQuestion)

	assert.True(t, strings.HasPrefix(prompt, "### Postgres SQL tables, with their properties:\n"+singerSchema+"\n"))
	assert.Contains(t, prompt, "### Question:\n"+testutil.SingerQuestion+"\n")
	assert.True(t, strings.HasSuffix(prompt, "lowercase only):\nselect "))
}

func TestCleanOutput(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"continuation", "name, country, age from singer;", "select name, country, age from singer;"},
		{"markup and case", "SELECT <col>Name</col> FROM <tab>singer</tab>", "select name from singer;"},
		{"stops at first statement", "count(*) from pets; drop table pets;", "select count(*) from pets;"},
		{"stops at blank line", "age from singer\n\n-- oldest first", "select age from singer;"},
		{"strips aliases", "t.name as n from singer as t", "select t.name from singer;"},
		{"collapses whitespace", "name\nfrom   singer", "select name from singer;"},
		{"empty", "", "select ;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, llm.CleanOutput(tt.raw))
		})
	}
}

func TestRuleGenerator(t *testing.T) {
	g := llm.NewRuleGenerator()
	ctx := context.Background()

	tests := []struct {
		name     string
		prompt   string
		want     string
		wantNone bool
	}{
		{
			name:   "named columns",
			prompt: llm.BuildPrompt(singerSchema, testutil.SingerQuestion),
			want:   "select name, country, age from singer;",
		},
		{
			name:   "no named columns",
			prompt: llm.BuildPrompt(singerSchema, testutil.WeatherQuestion),
			want:   "select * from singer;",
		},
		{
			name:     "no table",
			prompt:   llm.BuildPrompt("", testutil.SingerQuestion),
			wantNone: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := g.Generate(ctx, tt.prompt)
			require.NoError(t, err)

			if tt.wantNone {
				assert.Empty(t, raw)
				return
			}

			assert.Equal(t, tt.want, llm.CleanOutput(raw))
		})
	}
}

func newCompletionCache(t *testing.T) cache.Cache {
	t.Helper()

	c, err := cache.NewFileCache(t.TempDir(), 1, time.Hour, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func TestCachedGenerator(t *testing.T) {
	fake := testutil.NewFakeGenerator()
	g := llm.NewCachedGenerator(fake, newCompletionCache(t), 0)
	ctx := context.Background()

	for range 3 {
		text, err := g.Generate(ctx, "prompt")
		require.NoError(t, err)
		assert.Equal(t, testutil.SingerCompletion, text)
	}

	_, err := g.Generate(ctx, "other prompt")
	require.NoError(t, err)

	assert.Equal(t, []string{"prompt", "other prompt"}, fake.Prompts())
	assert.Equal(t, "fake", g.Name())
}

func TestCachedGeneratorDoesNotStoreFailures(t *testing.T) {
	boom := errors.New("backend down")
	fake := testutil.NewFakeGenerator(testutil.WithGenerateError(boom))
	g := llm.NewCachedGenerator(fake, newCompletionCache(t), 0)

	for range 2 {
		_, err := g.Generate(context.Background(), "prompt")
		assert.ErrorIs(t, err, boom)
	}

	assert.Len(t, fake.Prompts(), 2)
}

func TestNewGenerator(t *testing.T) {
	ctx := context.Background()

	g, err := llm.NewGenerator(ctx, config.LLMConfig{Provider: llm.ProviderRule})
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderRule, g.Name())

	g, err = llm.NewGenerator(ctx, config.LLMConfig{Provider: llm.ProviderOllama, Model: "sqlcoder:7b"})
	require.NoError(t, err)
	assert.Equal(t, "ollama:sqlcoder:7b", g.Name())

	_, err = llm.NewGenerator(ctx, config.LLMConfig{Provider: "gpt-j"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))

	_, err = llm.NewGenerator(ctx, config.LLMConfig{Provider: llm.ProviderOpenAI, Model: "gpt-4o-mini"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
}

func TestNewGeneratorWithCache(t *testing.T) {
	g, err := llm.NewGenerator(context.Background(), config.LLMConfig{
		Provider: llm.ProviderRule,
		CacheDir: t.TempDir(),
		CacheTTL: "1h",
	})
	require.NoError(t, err)

	cached, ok := g.(*llm.CachedGenerator)
	require.True(t, ok)
	t.Cleanup(func() { _ = cached.Close() })

	assert.Equal(t, llm.ProviderRule, cached.Name())
}

func TestCachedGeneratorEvictsBlankCompletion(t *testing.T) {
	c := newCompletionCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "fake|prompt", []byte("  \n"), 0))

	fake := testutil.NewFakeGenerator()
	g := llm.NewCachedGenerator(fake, c, 0)

	text, err := g.Generate(ctx, "prompt")
	require.NoError(t, err)
	assert.Equal(t, testutil.SingerCompletion, text)
	assert.Equal(t, []string{"prompt"}, fake.Prompts())

	stored, err := c.Get(ctx, "fake|prompt")
	require.NoError(t, err)
	assert.Equal(t, testutil.SingerCompletion, string(stored))
}

func TestOpenCompletionCache(t *testing.T) {
	_, err := llm.OpenCompletionCache(config.LLMConfig{}, 0)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))

	fc, err := llm.OpenCompletionCache(config.LLMConfig{CacheDir: t.TempDir(), CacheTTL: "1h"}, 0)
	require.NoError(t, err)
	require.NoError(t, fc.Close())
}
