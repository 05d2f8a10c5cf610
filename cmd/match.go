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

type matchInput struct {
	Question string `validate:"required"`
	Top      int    `validate:"min=1,max=50"`
}

func MatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "match",
		Usage:     "Find the database that best matches a question",
		ArgsUsage: " <question>",
		Description: `Route a question to one database of the corpus and report whether the gate
considers it answerable. With --top greater than 1 the ranked candidates are
listed instead and the gate is skipped.`,
		Flags: withGlobalFlags(
			&cli.IntFlag{Name: "top", Value: 1, Usage: "Number of ranked databases to show (1-50)"},
			formatFlag(),
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			input := matchInput{Question: questionArg(cmd), Top: int(cmd.Int("top"))}
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

			return runMatch(ctx, os.Stdout, p, input, formatter.ParseFormat(cmd.String("format")))
		},
	}
}

func runMatch(ctx context.Context, w io.Writer, p *pipeline.Pipeline, input matchInput, format formatter.OutputFormat) error {
	f := formatter.NewFormatter()

	if input.Top > 1 {
		results, err := p.Rank(ctx, input.Question, input.Top)
		if err != nil {
			return err
		}

		fmt.Fprintln(w, f.FormatMatches(results, format))

		return nil
	}

	resp, err := p.Match(ctx, input.Question)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, f.FormatMatch(resp, format))

	return nil
}
