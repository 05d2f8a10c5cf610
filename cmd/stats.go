package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/text2sql-router/internal/cache"
	"github.com/kyleking/text2sql-router/internal/formatter"
	"github.com/kyleking/text2sql-router/internal/llm"
	"github.com/kyleking/text2sql-router/internal/storage"
)

type statsInput struct {
	Provider string
	Recent   int
	Format   formatter.OutputFormat
}

func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Display embedding store and completion cache statistics",
		Description: `Show how many embeddings the store holds per provider, when it was last written and its size on disk.
With --recent and --provider, also list the most recently stored vectors of that provider.
With --completions, report on the completion cache under llm.cache_dir instead.`,
		Flags: withGlobalFlags(
			formatFlag(),
			&cli.BoolFlag{Name: "completions", Usage: "Show completion cache statistics"},
			&cli.StringFlag{Name: "provider", Usage: "Provider whose stored vectors --recent lists (e.g. hash:384)"},
			&cli.IntFlag{Name: "recent", Usage: "List this many of the newest stored vectors"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			format := formatter.ParseFormat(cmd.String("format"))

			if cmd.Bool("completions") {
				fc, err := llm.OpenCompletionCache(cfg.LLM, 0)
				if err != nil {
					return err
				}
				defer fc.Close()

				return runCompletionStats(ctx, os.Stdout, fc, format)
			}

			store, err := storage.OpenFromConfig(ctx, cfg.Storage)
			if err != nil {
				return err
			}
			defer store.Close()

			return runStatsWithStore(ctx, os.Stdout, store, statsInput{
				Provider: cmd.String("provider"),
				Recent:   int(cmd.Int("recent")),
				Format:   format,
			})
		},
	}
}

func runStatsWithStore(ctx context.Context, w io.Writer, store storage.Store, in statsInput) error {
	if in.Recent > 0 && in.Provider == "" {
		return fmt.Errorf("--recent needs --provider")
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get statistics: %w", err)
	}

	f := formatter.NewFormatter()

	if in.Format != formatter.FormatJSON {
		fmt.Fprintln(w, "Embedding Store Statistics")
		fmt.Fprintln(w, "==========================")
	}

	fmt.Fprintln(w, f.FormatStoreStats(stats, in.Format))

	if in.Recent == 0 {
		return nil
	}

	rows, err := store.List(ctx, in.Provider, in.Recent)
	if err != nil {
		return fmt.Errorf("failed to list embeddings: %w", err)
	}

	if in.Format != formatter.FormatJSON {
		fmt.Fprintf(w, "\nNewest %s vectors:\n", in.Provider)
	}

	fmt.Fprintln(w, f.FormatStoredEmbeddings(rows, in.Format))

	return nil
}

func runCompletionStats(ctx context.Context, w io.Writer, c cache.Cache, format formatter.OutputFormat) error {
	stats, err := c.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get cache statistics: %w", err)
	}

	if format != formatter.FormatJSON {
		fmt.Fprintln(w, "Completion Cache Statistics")
		fmt.Fprintln(w, "===========================")
	}

	fmt.Fprintln(w, formatter.NewFormatter().FormatCacheStats(stats, format))

	return nil
}
