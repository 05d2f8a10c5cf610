package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/urfave/cli/v3"

	"github.com/kyleking/text2sql-router/internal/embedding"
	"github.com/kyleking/text2sql-router/internal/formatter"
	"github.com/kyleking/text2sql-router/internal/logging"
	"github.com/kyleking/text2sql-router/internal/projector"
	"github.com/kyleking/text2sql-router/internal/relevance"
	"github.com/kyleking/text2sql-router/internal/schema"
)

func IndexCommand() *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "Precompute corpus embeddings into the embedding store",
		Description: `Embed every text the pipeline needs for the corpus (database descriptions,
table fragments and gate lines) and persist the vectors in the DuckDB store
so later runs start without calling the embedding backend. Only missing
vectors are computed unless --rebuild is given.`,
		Flags: withGlobalFlags(
			&cli.BoolFlag{Name: "rebuild", Usage: "Drop stored vectors for the current provider first"},
			formatFlag(),
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			a, err := newApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			return runIndex(ctx, os.Stdout, a, cmd.Bool("rebuild"), formatter.ParseFormat(cmd.String("format")))
		},
	}
}

func runIndex(ctx context.Context, w io.Writer, a *app, rebuild bool, format formatter.OutputFormat) error {
	if rebuild {
		if err := a.store.Clear(ctx, a.provider.GetName()); err != nil {
			return err
		}
	}

	texts := corpusTexts(a.corpus)

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = fmt.Sprintf(" Embedding %d schema texts with %s", len(texts), a.provider.GetName())
	s.Start()

	start := time.Now()
	_, err := embedding.EmbedAll(ctx, a.provider, texts, a.cfg.Embedding.BatchSize, a.cfg.Embedding.Concurrency)

	s.Stop()

	if err != nil {
		return err
	}

	logging.WithFields(map[string]any{
		"texts":    len(texts),
		"duration": time.Since(start).String(),
	}).Info("Indexed corpus embeddings")

	stats, err := a.store.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, formatter.NewFormatter().FormatStoreStats(stats, format))

	return nil
}

// corpusTexts lists every distinct text the matcher, projector and gate embed
func corpusTexts(corpus *schema.Corpus) []string {
	seen := make(map[string]struct{})

	var texts []string

	add := func(items ...string) {
		for _, t := range items {
			if _, ok := seen[t]; ok || t == "" {
				continue
			}

			seen[t] = struct{}{}
			texts = append(texts, t)
		}
	}

	for _, db := range corpus.Databases() {
		add(db.DescriptiveText)
		add(projector.Fragments(db)...)
		add(relevance.Lines(db.FineGrainedText())...)
	}

	return texts
}
