package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/text2sql-router/internal/errors"
	"github.com/kyleking/text2sql-router/internal/formatter"
	"github.com/kyleking/text2sql-router/internal/schema"
	"github.com/kyleking/text2sql-router/internal/sqlcheck"
)

type checkInput struct {
	DBID   string `validate:"required"`
	SQL    string `validate:"required"`
	Strict bool
	Syntax bool
}

func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check that a SQL statement only names tables and columns of a database",
		ArgsUsage: " <sql>",
		Description: `Validate a statement against one database of the corpus. No embeddings are
computed. --strict also requires each qualified column to belong to its table
and --syntax runs the SQL grammar before the schema check.`,
		Flags: withGlobalFlags(
			&cli.StringFlag{Name: "db", Usage: "Database id from the corpus", Required: true},
			&cli.BoolFlag{Name: "strict", Usage: "Scope qualified columns to their table"},
			&cli.BoolFlag{Name: "syntax", Usage: "Parse the statement before checking names"},
			formatFlag(),
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			input := checkInput{
				DBID:   cmd.String("db"),
				SQL:    questionArg(cmd),
				Strict: cmd.Bool("strict") || cfg.SQLCheck.Strict,
				Syntax: cmd.Bool("syntax"),
			}

			corpus, err := schema.LoadFile(cfg.Corpus.Path)
			if err != nil {
				return err
			}

			return runValidate(ctx, os.Stdout, corpus, input, formatter.ParseFormat(cmd.String("format")))
		},
	}
}

func runValidate(ctx context.Context, w io.Writer, corpus *schema.Corpus, input checkInput, format formatter.OutputFormat) error {
	if err := validateInput(input); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	db, ok := corpus.Lookup(input.DBID)
	if !ok {
		return errors.Newf(errors.ErrTypeNotFound, "unknown database %q", input.DBID)
	}

	if input.Syntax {
		if err := sqlcheck.CheckSyntax(input.SQL, true); err != nil {
			fmt.Fprintln(w, "invalid: "+err.Error())
			return nil
		}
	}

	var outcome sqlcheck.Outcome
	if input.Strict {
		outcome = sqlcheck.ValidateStrict(input.SQL, db)
	} else {
		outcome = sqlcheck.Validate(input.SQL, db)
	}

	fmt.Fprintln(w, formatter.NewFormatter().FormatOutcome(outcome, format))

	return nil
}
