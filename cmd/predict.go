package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/text2sql-router/internal/errors"
	"github.com/kyleking/text2sql-router/internal/logging"
	"github.com/kyleking/text2sql-router/internal/pipeline"
)

type predictInput struct {
	Questions string `validate:"required"`
	Format    string `validate:"oneof=tsv json"`
}

func PredictCommand() *cli.Command {
	return &cli.Command{
		Name:  "predict",
		Usage: "Generate SQL for a file of questions",
		Description: `Read questions from a text file (one per line) or a JSON array of objects with a
"question" field, and write one "db_id<TAB>sql" line per question. Questions
the gate rejects produce an empty SQL column. --output-format json writes the
full predictions instead.`,
		Flags: withGlobalFlags(
			&cli.StringFlag{Name: "questions", Aliases: []string{"q"}, Usage: "Questions file (.txt or .json)", Required: true},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Write predictions to this file instead of stdout"},
			&cli.StringFlag{Name: "output-format", Value: "tsv", Usage: "Prediction format: tsv or json"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			input := predictInput{Questions: cmd.String("questions"), Format: cmd.String("output-format")}
			if err := validateInput(input); err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			questions, err := readQuestions(input.Questions)
			if err != nil {
				return err
			}

			a, p, err := openPipeline(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			var w io.Writer = os.Stdout

			if path := cmd.String("output"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return errors.Wrap(err, errors.ErrTypeFileSystem, "failed to create output file")
				}
				defer f.Close()

				w = f
			}

			return runPredict(ctx, w, p, questions, input.Format)
		},
	}
}

func runPredict(ctx context.Context, w io.Writer, p *pipeline.Pipeline, questions []string, format string) error {
	preds, err := p.Predict(ctx, questions)
	if err != nil {
		return err
	}

	logging.WithFields(map[string]any{
		"questions": len(questions),
		"failed":    countFailed(preds),
	}).Info("Predictions generated")

	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(preds)
	}

	return pipeline.WritePredictions(w, preds)
}

func countFailed(preds []pipeline.Prediction) int {
	n := 0

	for _, pred := range preds {
		if pred.Error != "" {
			n++
		}
	}

	return n
}

// readQuestions loads non-empty questions in file order
func readQuestions(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeFileSystem, "failed to open questions file")
	}
	defer f.Close()

	var questions []string

	if strings.EqualFold(filepath.Ext(path), ".json") {
		var entries []struct {
			Question string `json:"question"`
		}

		if err := json.NewDecoder(f).Decode(&entries); err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeValidation, "questions file is not a JSON array of objects")
		}

		for _, e := range entries {
			if q := strings.TrimSpace(e.Question); q != "" {
				questions = append(questions, q)
			}
		}
	} else {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if q := strings.TrimSpace(scanner.Text()); q != "" {
				questions = append(questions, q)
			}
		}

		if err := scanner.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeFileSystem, "failed to read questions file")
		}
	}

	if len(questions) == 0 {
		return nil, errors.New(errors.ErrTypeValidation, fmt.Sprintf("no questions found in %s", path))
	}

	return questions, nil
}
