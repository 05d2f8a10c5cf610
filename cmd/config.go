package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/text2sql-router/internal/config"
)

func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Display the active configuration",
		Description: `Show the current active configuration including all settings from file, environment variables, and command-line flags.
With --save, write the resolved configuration to the config file (TEXT2SQL_CONFIG or ~/.config/text2sql-router/config.json). API keys are not written.`,
		Flags: withGlobalFlags(
			&cli.BoolFlag{Name: "save", Usage: "Write the resolved configuration to the config file"},
		),
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if cmd.Bool("save") {
				return runSaveConfig(os.Stdout, cfg)
			}

			return runConfig(os.Stdout, cfg)
		},
	}
}

func runConfig(w io.Writer, cfg *config.Config) error {
	fmt.Fprintln(w, "====================")
	fmt.Fprintln(w, "Active Configuration:")

	fmt.Fprintln(w, "\nCorpus:")
	fmt.Fprintf(w, "  Path: %s\n", cfg.Corpus.Path)

	fmt.Fprintln(w, "\nEmbedding:")
	fmt.Fprintf(w, "  Provider: %s\n", cfg.Embedding.Provider)
	fmt.Fprintf(w, "  Model: %s\n", cfg.Embedding.Model)
	fmt.Fprintf(w, "  Dimensions: %d\n", cfg.Embedding.Dimensions)
	fmt.Fprintf(w, "  Concurrency: %d\n", cfg.Embedding.Concurrency)

	fmt.Fprintln(w, "\nLLM:")
	fmt.Fprintf(w, "  Provider: %s\n", cfg.LLM.Provider)
	fmt.Fprintf(w, "  Model: %s\n", cfg.LLM.Model)

	if cfg.LLM.BaseURL != "" {
		fmt.Fprintf(w, "  Base URL: %s\n", cfg.LLM.BaseURL)
	}

	fmt.Fprintf(w, "  API Key: %s\n", maskSecret(cfg.LLM.APIKey))
	fmt.Fprintf(w, "  Temperature: %.2f\n", cfg.LLM.Temperature)

	if cfg.LLM.CacheDir != "" {
		fmt.Fprintf(w, "  Cache: %s (TTL %s)\n", cfg.LLM.CacheDir, cfg.LLM.CacheTTL)
	} else {
		fmt.Fprintln(w, "  Cache: disabled")
	}

	fmt.Fprintln(w, "\nPipeline:")
	fmt.Fprintf(w, "  Relevance Threshold: %.2f\n", cfg.Relevance.Threshold)
	fmt.Fprintf(w, "  Projector Top K: %d (margin %.2f)\n", cfg.Projector.TopK, cfg.Projector.Margin)
	fmt.Fprintf(w, "  Syntax Check: %t\n", cfg.SQLCheck.SyntaxCheck)
	fmt.Fprintf(w, "  Strict Validation: %t\n", cfg.SQLCheck.Strict)

	fmt.Fprintln(w, "\nStorage:")
	fmt.Fprintf(w, "  Enabled: %t\n", cfg.Storage.Enabled)
	fmt.Fprintf(w, "  Path: %s\n", cfg.Storage.Path)

	fmt.Fprintln(w, "\nExecutor:")
	fmt.Fprintf(w, "  Driver: %s\n", cfg.Executor.Driver)
	fmt.Fprintf(w, "  DSN: %s\n", cfg.Executor.DSN)
	fmt.Fprintf(w, "  Read Only: %t\n", cfg.Executor.ReadOnly)
	fmt.Fprintf(w, "  Max Rows: %d\n", cfg.Executor.MaxRows)

	fmt.Fprintln(w, "\nServer:")
	fmt.Fprintf(w, "  Address: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintf(w, "  CORS Origins: %s\n", strings.Join(cfg.Server.CORSOrigins, ", "))
	fmt.Fprintf(w, "  Request Timeout: %s\n", cfg.Server.RequestTimeout)

	fmt.Fprintln(w, "\nLogging:")
	fmt.Fprintf(w, "  Level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(w, "  Format: %s\n", cfg.Logging.Format)
	fmt.Fprintf(w, "  Output: %s\n", cfg.Logging.Output)

	if cfg.Logging.Output == "file" {
		fmt.Fprintf(w, "  File: %s\n", cfg.Logging.File)
	}

	fmt.Fprintln(w, "\nDebug:")
	fmt.Fprintf(w, "  Enabled: %t\n", cfg.Debug.Enabled)
	fmt.Fprintf(w, "  Verbose: %t\n", cfg.Debug.Verbose)

	if cfg.Debug.Enabled {
		fmt.Fprintln(w, "\nRaw Configuration (JSON):")
		fmt.Fprintln(w, "==========================")

		jsonData, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}

		fmt.Fprintln(w, string(jsonData))
	}

	return nil
}

func runSaveConfig(w io.Writer, cfg *config.Config) error {
	path, err := config.SaveConfig(cfg)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Configuration saved to %s\n", path)

	return nil
}

func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}

	if len(s) <= 8 {
		return "****"
	}

	return s[:4] + "****"
}
