package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/text2sql-router/internal/executor"
	"github.com/kyleking/text2sql-router/internal/formatter"
)

type execInput struct {
	Query string `validate:"required"`
}

func ExecCommand() *cli.Command {
	return &cli.Command{
		Name:      "exec",
		Usage:     "Run a SQL statement against the execution database",
		ArgsUsage: " <sql>",
		Description: `Execute one statement with the configured executor (executor.driver and
executor.dsn). SELECT results print as a table; other statements report
success. executor.read_only rejects anything but SELECT.`,
		Flags: withGlobalFlags(formatFlag()),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			input := execInput{Query: questionArg(cmd)}
			if err := validateInput(input); err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			runner, err := executor.New(ctx, cfg.Executor)
			if err != nil {
				return err
			}
			defer runner.Close()

			return runExec(ctx, os.Stdout, runner, input.Query, formatter.ParseFormat(cmd.String("format")))
		},
	}
}

func runExec(ctx context.Context, w io.Writer, runner executor.Executor, query string, format formatter.OutputFormat) error {
	result, err := runner.Execute(ctx, query)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, formatter.NewFormatter().FormatResult(result, format))

	return nil
}
