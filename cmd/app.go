package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/urfave/cli/v3"

	"github.com/kyleking/text2sql-router/internal/config"
	"github.com/kyleking/text2sql-router/internal/embedding"
	"github.com/kyleking/text2sql-router/internal/errors"
	"github.com/kyleking/text2sql-router/internal/llm"
	"github.com/kyleking/text2sql-router/internal/logging"
	"github.com/kyleking/text2sql-router/internal/pipeline"
	"github.com/kyleking/text2sql-router/internal/schema"
	"github.com/kyleking/text2sql-router/internal/storage"
)

// globalFlags override the matching configuration values
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "corpus", Usage: "Path to the tables.json schema corpus"},
		&cli.StringFlag{Name: "embedding-provider", Usage: "Embedding backend: local, ollama, genai or hash"},
		&cli.StringFlag{Name: "llm-provider", Usage: "SQL generation backend: ollama, openai, anthropic, genai or rule"},
		&cli.StringFlag{Name: "llm-model", Usage: "Model name for the generation backend"},
		&cli.FloatFlag{Name: "threshold", Usage: "Relevance gate threshold in [0, 1]"},
		&cli.StringFlag{Name: "log-level", Usage: "Log level: debug, info, warn or error"},
		&cli.BoolFlag{Name: "verbose", Usage: "Show detailed processing steps"},
		&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging"},
	}
}

func withGlobalFlags(extra ...cli.Flag) []cli.Flag {
	return append(globalFlags(), extra...)
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{Name: "format", Value: "short", Usage: "Output format: short, long or json"}
}

// loadConfig resolves configuration with the command's flags applied last
// and initializes the global logger from it
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	overrides := make(map[string]any)

	for _, name := range []string{"corpus", "embedding-provider", "llm-provider", "llm-model", "log-level"} {
		if cmd.IsSet(name) {
			overrides[name] = cmd.String(name)
		}
	}

	if cmd.IsSet("threshold") {
		overrides["threshold"] = cmd.Float("threshold")
	}

	if cmd.IsSet("port") {
		overrides["port"] = int(cmd.Int("port"))
	}

	for _, name := range []string{"verbose", "debug"} {
		if cmd.IsSet(name) {
			overrides[name] = cmd.Bool(name)
		}
	}

	cfg, err := config.LoadConfigWithOverrides(overrides)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to load configuration")
	}

	cfg.ExpandAllPaths()

	if cfg.Debug.Enabled {
		cfg.Logging.Level = "debug"
	}

	if err := logging.InitializeLogger(cfg.Logging); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to initialize logging")
	}

	return cfg, nil
}

// app holds the components built from one configuration
type app struct {
	cfg      *config.Config
	corpus   *schema.Corpus
	provider embedding.Provider
	store    *storage.DuckDBStore
	pipeline *pipeline.Pipeline
	closers  []io.Closer
}

// newApp loads the corpus and opens the embedding backend. The store wraps
// the provider when storage is enabled or forceStore is set.
func newApp(ctx context.Context, cfg *config.Config, forceStore bool) (*app, error) {
	corpus, err := schema.LoadFile(cfg.Corpus.Path)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, corpus: corpus}

	provider, err := embedding.NewProvider(ctx, cfg.Embedding)
	if err != nil {
		return nil, err
	}

	a.provider = provider

	if c, ok := provider.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	if cfg.Storage.Enabled || forceStore {
		store, err := storage.OpenFromConfig(ctx, cfg.Storage)
		if err != nil {
			a.Close()
			return nil, err
		}

		a.store = store
		a.closers = append(a.closers, store)
		a.provider = storage.NewCachedProvider(provider, store)
	}

	return a, nil
}

// buildPipeline opens the generator and precomputes the corpus embeddings
func (a *app) buildPipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	gen, err := llm.NewGenerator(ctx, a.cfg.LLM)
	if err != nil {
		return nil, err
	}

	if c, ok := gen.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	log := logging.WithFields(map[string]any{
		"databases": a.corpus.Len(),
		"embedder":  a.provider.GetName(),
		"generator": gen.Name(),
	})

	err = logging.Track(log, "build pipeline", func() error {
		a.pipeline, err = pipeline.Build(ctx, a.cfg, a.corpus, a.provider, gen)
		return err
	})
	if err != nil {
		return nil, err
	}

	return a.pipeline, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			logging.WithError(err).Warn("Failed to release resource")
		}
	}

	a.closers = nil
}

// openPipeline is the common setup of commands that answer questions
func openPipeline(ctx context.Context, cfg *config.Config) (*app, *pipeline.Pipeline, error) {
	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return nil, nil, err
	}

	p, err := a.buildPipeline(ctx)
	if err != nil {
		a.Close()
		return nil, nil, err
	}

	return a, p, nil
}

var inputValidator = validator.New()

// validateInput checks struct tags on command input
func validateInput(input any) error {
	err := inputValidator.Struct(input)
	if err == nil {
		return nil
	}

	var invalid validator.ValidationErrors
	if !errors.As(err, &invalid) {
		return errors.Wrap(err, errors.ErrTypeInternal, "failed to validate input")
	}

	msgs := make([]string, 0, len(invalid))

	for _, fe := range invalid {
		field := strings.ToLower(fe.Field())
		if fe.Param() == "" {
			msgs = append(msgs, field+" is "+fe.Tag())
		} else {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param()))
		}
	}

	return errors.New(errors.ErrTypeValidation, strings.Join(msgs, "; "))
}

// questionArg joins the positional arguments so questions need no quoting
func questionArg(cmd *cli.Command) string {
	return strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
}
