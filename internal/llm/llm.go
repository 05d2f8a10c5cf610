// Package llm turns a schema projection and a question into SQL through a
// text-generation backend.
package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Generator completes a prompt
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// Provider constants for the supported backends
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGenAI     = "genai"
	ProviderRule      = "rule"
)

// StopSequences end a completion after the first statement
var StopSequences = []string{"\n\n", ";"}

const promptTemplate = `### Postgres SQL tables, with their properties:
%s

### Question:
%s

### SQL query (no aliases, no extra formatting, lowercase only):
select `

// BuildPrompt renders the generation prompt. It ends inside a SELECT so the
// model completes the column list.
func BuildPrompt(schema, question string) string {
	return fmt.Sprintf(promptTemplate, schema, question)
}

var (
	markupPattern    = regexp.MustCompile(`</?(tab|col)>|tab>|col>`)
	selectPattern    = regexp.MustCompile(`\bselect\b`)
	blankLinePattern = regexp.MustCompile(`\n[ \t\r]*\n`)
	aliasPattern     = regexp.MustCompile(`\s+as\s+\w+`)
)

// CleanOutput normalizes a raw completion into a single lower-case
// statement that starts with "select " and ends with ";". An empty
// completion yields "select ;".
func CleanOutput(raw string) string {
	sql := markupPattern.ReplaceAllString(raw, "")
	sql = strings.ToLower(sql)

	if loc := selectPattern.FindStringIndex(sql); loc != nil {
		sql = sql[loc[1]:]
	}

	if loc := blankLinePattern.FindStringIndex(sql); loc != nil {
		sql = sql[:loc[0]]
	}

	if i := strings.Index(sql, ";"); i >= 0 {
		sql = sql[:i]
	}

	sql = aliasPattern.ReplaceAllString(sql, "")
	sql = strings.Join(strings.Fields(sql), " ")

	return "select " + sql + ";"
}
