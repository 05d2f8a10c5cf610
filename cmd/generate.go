package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/text2sql-router/internal/formatter"
	"github.com/kyleking/text2sql-router/internal/pipeline"
)

type questionInput struct {
	Question string `validate:"required"`
}

func GenerateCommand() *cli.Command {
	return &cli.Command{
		Name:      "generate",
		Usage:     "Generate SQL for a question",
		ArgsUsage: " <question>",
		Description: `Run the full pipeline for one question: match, gate, project, generate and
validate. The short format prints only the SQL, or the reason there is none.`,
		Flags: withGlobalFlags(formatFlag()),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			input := questionInput{Question: questionArg(cmd)}
			if err := validateInput(input); err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			a, p, err := openPipeline(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return runGenerate(ctx, os.Stdout, p, input.Question, formatter.ParseFormat(cmd.String("format")))
		},
	}
}

func runGenerate(ctx context.Context, w io.Writer, p *pipeline.Pipeline, question string, format formatter.OutputFormat) error {
	resp, err := p.Generate(ctx, question)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, formatter.NewFormatter().FormatGenerate(resp, format))

	return nil
}
