package sqlcheck

import (
	"fmt"
	"strings"

	"github.com/auxten/postgresql-parser/pkg/sql/parser"

	"github.com/kyleking/text2sql-router/internal/errors"
	"github.com/kyleking/text2sql-router/internal/schema"
)

// Outcome is the result of validating a statement against a database
type Outcome struct {
	Valid          bool     `json:"valid"`
	TablesUsed     []string `json:"tables_used"`
	ColumnsUsed    []string `json:"columns_used"`
	UnknownTables  []string `json:"unknown_tables,omitempty"`
	UnknownColumns []string `json:"unknown_columns,omitempty"`
	// NoTable is set by ValidateStrict when no table could be found
	NoTable bool `json:"no_table,omitempty"`
}

// Err returns a schema violation error naming the offending identifiers, or
// nil when the outcome is valid.
func (o Outcome) Err() error {
	if o.Valid {
		return nil
	}

	var parts []string

	if len(o.UnknownTables) > 0 {
		parts = append(parts, "unknown tables: "+strings.Join(o.UnknownTables, ", "))
	}

	if len(o.UnknownColumns) > 0 {
		parts = append(parts, "unknown columns: "+strings.Join(o.UnknownColumns, ", "))
	}

	if o.NoTable {
		parts = append(parts, "no table referenced")
	}

	return errors.New(errors.ErrTypeSchemaViolation, strings.Join(parts, "; ")).
		WithSuggestion("Rephrase the question using names from the schema")
}

// Validate checks that every mentioned table is a table of db and every
// mentioned column belongs to some table of db. Columns are not scoped to
// the table they are used with. A statement with no recognizable mentions
// is valid.
func Validate(sql string, db *schema.Database) Outcome {
	m := Extract(sql)

	out := Outcome{TablesUsed: m.Tables, ColumnsUsed: m.Columns}

	for _, t := range m.Tables {
		if !db.HasTable(t) {
			out.UnknownTables = append(out.UnknownTables, t)
		}
	}

	for _, c := range m.Columns {
		if !db.HasColumn(c) {
			out.UnknownColumns = append(out.UnknownColumns, c)
		}
	}

	out.Valid = len(out.UnknownTables) == 0 && len(out.UnknownColumns) == 0

	return out
}

// ValidateStrict is Validate, except that a statement without any table
// mention fails instead of passing vacuously.
func ValidateStrict(sql string, db *schema.Database) Outcome {
	out := Validate(sql, db)

	if len(out.TablesUsed) == 0 {
		out.NoTable = true
		out.Valid = false
	}

	return out
}

var statementStarts = toSet("SELECT", "WITH", "INSERT", "UPDATE", "DELETE")

// CheckSyntax rejects text that cannot be a SQL statement. The lexical pass
// always runs; withParser additionally runs the PostgreSQL grammar.
func CheckSyntax(sql string, withParser bool) error {
	if err := checkLexical(sql); err != nil {
		return err
	}

	if !withParser {
		return nil
	}

	stmts, err := parser.Parse(sql)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeInvalidSQL, "statement does not parse").
			WithSuggestion("Please rephrase the question")
	}

	if len(stmts) == 0 {
		return invalid("no statement found")
	}

	return nil
}

func checkLexical(sql string) error {
	tokens := lex(sql)

	var meaningful []token

	for _, t := range tokens {
		if t.typ != tokSemicolon {
			meaningful = append(meaningful, t)
		}
	}

	if len(meaningful) == 0 {
		return invalid("statement is empty")
	}

	first := meaningful[0]
	if _, ok := statementStarts[strings.ToUpper(first.text)]; first.typ != tokWord || !ok {
		return invalid(fmt.Sprintf("statement starts with %q", first.text))
	}

	if len(meaningful) == 1 {
		return invalid(fmt.Sprintf("%s has no body", strings.ToLower(first.text)))
	}

	depth := 0

	for _, t := range tokens {
		switch t.typ {
		case tokLParen:
			depth++
		case tokRParen:
			depth--
		}

		if depth < 0 {
			return invalid("unbalanced parentheses")
		}
	}

	if depth != 0 {
		return invalid("unbalanced parentheses")
	}

	if last := tokens[len(tokens)-1]; last.open {
		return invalid("unterminated quote")
	}

	return nil
}

func invalid(msg string) error {
	return errors.New(errors.ErrTypeInvalidSQL, msg).WithSuggestion("Please rephrase the question")
}
