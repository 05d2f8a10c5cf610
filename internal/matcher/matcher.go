// Package matcher routes a natural-language question to the closest database
// in a schema corpus by embedding similarity.
package matcher

import (
	"context"
	"strings"
	"time"

	"github.com/kyleking/text2sql-router/internal/embedding"
	"github.com/kyleking/text2sql-router/internal/errors"
	"github.com/kyleking/text2sql-router/internal/logging"
	"github.com/kyleking/text2sql-router/internal/schema"
)

// Result is a routed database and its similarity to the question
type Result struct {
	DBID  string  `json:"db_id"`
	Text  string  `json:"-"`
	Score float64 `json:"score"`
}

// Matcher holds one precomputed vector per database. It is read-only after
// New returns and safe for concurrent use.
type Matcher struct {
	corpus   *schema.Corpus
	provider embedding.Provider
	vectors  [][]float32
}

type options struct {
	concurrency int
	batchSize   int
}

// Option configures corpus precomputation
type Option func(*options)

// WithConcurrency bounds how many embedding batches run at once
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = n
	}
}

// WithBatchSize sets how many descriptive texts go into one embedding call
func WithBatchSize(n int) Option {
	return func(o *options) {
		o.batchSize = n
	}
}

// New embeds every database's descriptive text. A backend failure here is
// fatal for the caller.
func New(ctx context.Context, corpus *schema.Corpus, provider embedding.Provider, opts ...Option) (*Matcher, error) {
	if corpus == nil || corpus.Len() == 0 {
		return nil, errors.New(errors.ErrTypeCorpusFormat, "corpus has no databases to match against")
	}

	o := options{concurrency: 1, batchSize: 32}
	for _, opt := range opts {
		opt(&o)
	}

	dbs := corpus.Databases()
	texts := make([]string, len(dbs))

	for i, db := range dbs {
		texts[i] = db.DescriptiveText
	}

	start := time.Now()

	vectors, err := embedding.EmbedAll(ctx, provider, texts, o.batchSize, o.concurrency)
	if err != nil {
		return nil, errors.NewBackendError(err, provider.GetName())
	}

	logging.WithFields(map[string]any{
		"databases": len(dbs),
		"provider":  provider.GetName(),
		"duration":  time.Since(start).String(),
	}).Info("Precomputed schema embeddings")

	return &Matcher{corpus: corpus, provider: provider, vectors: vectors}, nil
}

// Match returns the database whose descriptive text is most similar to the
// question. Ties go to the earliest database. An empty question returns the
// first database with score 0 without embedding anything.
func (m *Matcher) Match(ctx context.Context, question string) (Result, error) {
	if strings.TrimSpace(question) == "" {
		return m.result(0, 0), nil
	}

	scores, err := m.scores(ctx, question)
	if err != nil {
		return Result{}, err
	}

	best := embedding.ArgMax(scores)

	return m.result(best, scores[best]), nil
}

// Rank returns up to k databases ordered by descending similarity
func (m *Matcher) Rank(ctx context.Context, question string, k int) ([]Result, error) {
	if strings.TrimSpace(question) == "" {
		return []Result{m.result(0, 0)}, nil
	}

	scores, err := m.scores(ctx, question)
	if err != nil {
		return nil, err
	}

	ranked := embedding.TopK(scores, k)
	results := make([]Result, len(ranked))

	for i, r := range ranked {
		results[i] = m.result(r.Index, r.Score)
	}

	return results, nil
}

// Corpus returns the corpus the matcher was built from
func (m *Matcher) Corpus() *schema.Corpus {
	return m.corpus
}

func (m *Matcher) scores(ctx context.Context, question string) ([]float64, error) {
	vec, err := m.provider.GenerateEmbedding(ctx, question)
	if err != nil {
		return nil, errors.NewBackendError(err, m.provider.GetName())
	}

	return embedding.Scores(vec, m.vectors), nil
}

func (m *Matcher) result(i int, score float64) Result {
	db := m.corpus.Databases()[i]

	return Result{DBID: db.ID, Text: db.DescriptiveText, Score: score}
}
