// Package relevance decides whether a question is answerable from a schema
// description at all.
package relevance

import (
	"context"
	"strings"

	"github.com/kyleking/text2sql-router/internal/embedding"
	"github.com/kyleking/text2sql-router/internal/errors"
)

// DefaultThreshold is the minimum line similarity for a question to count as relevant
const DefaultThreshold = 0.35

// Verdict is the outcome of a relevance check
type Verdict struct {
	Relevant bool    `json:"relevant"`
	Score    float64 `json:"score"`
	// Line is the schema line that scored highest, lower-cased
	Line string `json:"line,omitempty"`
}

// Gate compares a question against every line of a schema text
type Gate struct {
	provider  embedding.Provider
	threshold float64
}

// New creates a gate. A negative threshold selects DefaultThreshold.
func New(provider embedding.Provider, threshold float64) *Gate {
	if threshold < 0 {
		threshold = DefaultThreshold
	}

	return &Gate{provider: provider, threshold: threshold}
}

// Threshold returns the score a question must reach
func (g *Gate) Threshold() float64 {
	return g.threshold
}

// IsRelevant reports whether any line of schemaText scores at least the threshold
func (g *Gate) IsRelevant(ctx context.Context, question, schemaText string) (bool, error) {
	v, err := g.Score(ctx, question, schemaText)
	if err != nil {
		return false, err
	}

	return v.Relevant, nil
}

// Score embeds the question together with the non-empty lines of schemaText
// and returns the best match. A text with no lines is never relevant and is
// not sent to the embedder.
func (g *Gate) Score(ctx context.Context, question, schemaText string) (Verdict, error) {
	lines := Lines(schemaText)
	if len(lines) == 0 {
		return Verdict{}, nil
	}

	vectors, err := g.provider.GenerateEmbeddings(ctx, append([]string{question}, lines...))
	if err != nil {
		return Verdict{}, errors.NewBackendError(err, g.provider.GetName())
	}

	if len(vectors) != len(lines)+1 {
		return Verdict{}, errors.Newf(errors.ErrTypeBackend,
			"%s returned %d embeddings for %d texts", g.provider.GetName(), len(vectors), len(lines)+1)
	}

	scores := embedding.Scores(vectors[0], vectors[1:])
	best := embedding.ArgMax(scores)

	return Verdict{
		Relevant: scores[best] >= g.threshold,
		Score:    scores[best],
		Line:     lines[best],
	}, nil
}

// Lines splits text into trimmed, lower-cased, non-empty lines
func Lines(text string) []string {
	var lines []string

	for _, line := range strings.Split(text, "\n") {
		if line = strings.ToLower(strings.TrimSpace(line)); line != "" {
			lines = append(lines, line)
		}
	}

	return lines
}
