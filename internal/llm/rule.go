package llm

import (
	"context"
	"regexp"
	"strings"

	"github.com/kyleking/text2sql-router/internal/embedding"
)

var (
	tablePattern  = regexp.MustCompile(`<tab>([^<]*)</tab>\(([^)]*)\)`)
	columnPattern = regexp.MustCompile(`<col>([^<]*)</col>`)
)

// RuleGenerator answers without a model: it selects the columns of the first
// projected table that the question names, or every column when it names none.
// It keeps the pipeline usable offline and in tests.
type RuleGenerator struct{}

// NewRuleGenerator creates a rule-based generator
func NewRuleGenerator() *RuleGenerator {
	return &RuleGenerator{}
}

// Name identifies the generator in logs
func (r *RuleGenerator) Name() string {
	return ProviderRule
}

// Generate returns the continuation of the prompt's trailing "select ". A
// prompt without a projected table yields an empty completion.
func (r *RuleGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	match := tablePattern.FindStringSubmatch(prompt)
	if match == nil {
		return "", nil
	}

	table := match[1]
	words := make(map[string]struct{})

	for _, w := range embedding.Tokenize(questionOf(prompt)) {
		words[w] = struct{}{}
	}

	var selected []string

	for _, col := range columnPattern.FindAllStringSubmatch(match[2], -1) {
		if mentionsAll(words, embedding.Tokenize(col[1])) {
			selected = append(selected, col[1])
		}
	}

	if len(selected) == 0 {
		return "* from " + table, nil
	}

	return strings.Join(selected, ", ") + " from " + table, nil
}

func questionOf(prompt string) string {
	_, rest, ok := strings.Cut(prompt, "### Question:\n")
	if !ok {
		return ""
	}

	question, _, _ := strings.Cut(rest, "\n\n###")

	return question
}

func mentionsAll(words map[string]struct{}, tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}

	for _, t := range tokens {
		if _, ok := words[t]; !ok {
			return false
		}
	}

	return true
}
