package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

var (
	version = "dev"
	commit  = "none"
)

// NewRootCommand assembles the text2sql command tree
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:    "text2sql",
		Usage:   "Route natural-language questions to a database schema and generate SQL",
		Version: version + " (commit: " + commit + ")",
		Description: `text2sql picks the database in a Spider-style schema corpus that best matches a
question, rejects questions the schema cannot answer, narrows the schema to the
most relevant table and asks a language model for a SELECT statement. Generated
SQL is checked against the schema before it is returned.`,
		Commands: []*cli.Command{
			ServeCommand(),
			MatchCommand(),
			GenerateCommand(),
			ValidateCommand(),
			PredictCommand(),
			ExecCommand(),
			IndexCommand(),
			StatsCommand(),
			ClearCommand(),
			ConfigCommand(),
		},
	}
}

// Execute runs the CLI until it finishes or the process is interrupted
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return NewRootCommand().Run(ctx, os.Args)
}
