package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/text2sql-router/internal/cache"
	"github.com/kyleking/text2sql-router/internal/llm"
	"github.com/kyleking/text2sql-router/internal/storage"
)

func ClearCommand() *cli.Command {
	return &cli.Command{
		Name:        "clear",
		Usage:       "Clear the embedding store or the completion cache",
		Description: `Remove stored embeddings, for every provider or only the one named by --provider. With --completions, empty the completion cache instead. This action requires confirmation.`,
		Flags: withGlobalFlags(
			&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "Skip confirmation prompt"},
			&cli.StringFlag{Name: "provider", Usage: "Only clear vectors of this provider (e.g. hash:384)"},
			&cli.BoolFlag{Name: "completions", Usage: "Clear cached model completions"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if cmd.Bool("completions") {
				fc, err := llm.OpenCompletionCache(cfg.LLM, 0)
				if err != nil {
					return err
				}
				defer fc.Close()

				return runClearCompletions(ctx, os.Stdout, os.Stdin, fc, cmd.Bool("force"))
			}

			store, err := storage.OpenFromConfig(ctx, cfg.Storage)
			if err != nil {
				return err
			}
			defer store.Close()

			return runClearWithStore(ctx, os.Stdout, os.Stdin, store, cmd.String("provider"), cmd.Bool("force"))
		},
	}
}

func runClearWithStore(ctx context.Context, w io.Writer, in io.Reader, store storage.Store, provider string, force bool) error {
	stats, err := store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get statistics: %w", err)
	}

	count := stats.TotalEmbeddings
	if provider != "" {
		count = stats.Providers[provider]
	}

	if count == 0 {
		fmt.Fprintln(w, "Embedding store is already empty.")
		return nil
	}

	fmt.Fprintf(w, "This will delete:\n")

	if provider != "" {
		fmt.Fprintf(w, "  • %d embeddings from %s\n", count, provider)
	} else {
		fmt.Fprintf(w, "  • %d embeddings from %d providers\n", count, len(stats.Providers))
		fmt.Fprintf(w, "  • %.2f MB of data\n", stats.DatabaseSizeMB)
	}

	if !force {
		ok, err := confirm(w, in, "Are you sure you want to clear the embedding store? Vectors will be recomputed on the next run.")
		if err != nil || !ok {
			return err
		}
	}

	if err := store.Clear(ctx, provider); err != nil {
		return fmt.Errorf("failed to clear embedding store: %w", err)
	}

	fmt.Fprintln(w, "Embedding store cleared successfully.")

	return nil
}

func runClearCompletions(ctx context.Context, w io.Writer, in io.Reader, c cache.Cache, force bool) error {
	stats, err := c.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get cache statistics: %w", err)
	}

	if stats.TotalEntries == 0 {
		fmt.Fprintln(w, "Completion cache is already empty.")
		return nil
	}

	fmt.Fprintf(w, "This will delete:\n")
	fmt.Fprintf(w, "  • %d cached completions\n", stats.TotalEntries)

	if !force {
		ok, err := confirm(w, in, "Are you sure you want to clear the completion cache? Prompts will be sent to the model again.")
		if err != nil || !ok {
			return err
		}
	}

	if err := c.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear completion cache: %w", err)
	}

	fmt.Fprintln(w, "Completion cache cleared successfully.")

	return nil
}

// confirm asks question and reports whether the user typed yes
func confirm(w io.Writer, in io.Reader, question string) (bool, error) {
	fmt.Fprintf(w, "\n%s\n", question)
	fmt.Fprintf(w, "Type 'yes' to confirm: ")

	response, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read input: %w", err)
	}

	if strings.TrimSpace(strings.ToLower(response)) != "yes" {
		fmt.Fprintln(w, "Operation cancelled.")
		return false, nil
	}

	return true, nil
}
