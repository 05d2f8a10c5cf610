// Package projector narrows a matched database to the table a question is
// about and renders it for the generation prompt.
package projector

import (
	"context"
	"strings"

	"github.com/kyleking/text2sql-router/internal/embedding"
	"github.com/kyleking/text2sql-router/internal/errors"
	"github.com/kyleking/text2sql-router/internal/schema"
)

// Projection is one selected table with its columns in corpus order
type Projection struct {
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
	Score   float64  `json:"score"`
}

// String renders the projection as <tab>t</tab>(<col>a</col>, <col>b</col>)
func (p Projection) String() string {
	var b strings.Builder

	b.WriteString("<tab>")
	b.WriteString(p.Table)
	b.WriteString("</tab>(")

	for i, col := range p.Columns {
		if i > 0 {
			b.WriteString(", ")
		}

		b.WriteString("<col>")
		b.WriteString(col)
		b.WriteString("</col>")
	}

	b.WriteString(")")

	return b.String()
}

// RenderAll joins several projections, one per line
func RenderAll(projections []Projection) string {
	lines := make([]string, len(projections))
	for i, p := range projections {
		lines[i] = p.String()
	}

	return strings.Join(lines, "\n")
}

// Projector scores a question against the table fragments of a database.
// Fragment vectors computed by Warm are reused; other databases embed their
// fragments per call.
type Projector struct {
	provider  embedding.Provider
	fragments map[string][][]float32
}

// New creates a projector that embeds fragments on every call
func New(provider embedding.Provider) *Projector {
	return &Projector{provider: provider, fragments: map[string][][]float32{}}
}

// Warm creates a projector with the fragment vectors of every database in the
// corpus precomputed. The result is read-only and safe for concurrent use.
func Warm(ctx context.Context, provider embedding.Provider, corpus *schema.Corpus, batchSize, concurrency int) (*Projector, error) {
	var (
		texts  []string
		owners []string
	)

	for _, db := range corpus.Databases() {
		for _, frag := range Fragments(db) {
			texts = append(texts, frag)
			owners = append(owners, db.ID)
		}
	}

	vectors, err := embedding.EmbedAll(ctx, provider, texts, batchSize, concurrency)
	if err != nil {
		return nil, errors.NewBackendError(err, provider.GetName())
	}

	p := New(provider)
	for i, id := range owners {
		p.fragments[id] = append(p.fragments[id], vectors[i])
	}

	return p, nil
}

// Fragments returns "{table}: {c1, c2, ...}" for every table, in corpus order.
// Tables without columns still produce a fragment.
func Fragments(db *schema.Database) []string {
	frags := make([]string, len(db.Tables))
	for i, table := range db.Tables {
		frags[i] = db.TableFragment(table)
	}

	return frags
}

// Project picks the single table most similar to the question. Ties go to
// the table listed first.
func (p *Projector) Project(ctx context.Context, question string, db *schema.Database) (Projection, error) {
	scores, err := p.scores(ctx, question, db)
	if err != nil {
		return Projection{}, err
	}

	best := embedding.ArgMax(scores)

	return projection(db, best, scores[best]), nil
}

// ProjectTopK returns up to k tables scoring within margin of the best one,
// best first. k <= 1 behaves like Project.
func (p *Projector) ProjectTopK(ctx context.Context, question string, db *schema.Database, k int, margin float64) ([]Projection, error) {
	if k <= 1 {
		proj, err := p.Project(ctx, question, db)
		if err != nil {
			return nil, err
		}

		return []Projection{proj}, nil
	}

	scores, err := p.scores(ctx, question, db)
	if err != nil {
		return nil, err
	}

	ranked := embedding.TopK(scores, k)
	out := make([]Projection, 0, len(ranked))

	for _, r := range ranked {
		if r.Score < ranked[0].Score-margin {
			break
		}

		out = append(out, projection(db, r.Index, r.Score))
	}

	return out, nil
}

func (p *Projector) scores(ctx context.Context, question string, db *schema.Database) ([]float64, error) {
	if len(db.Tables) == 0 {
		return nil, errors.NewCorpusError(db.ID, "database has no tables to project")
	}

	if cached, ok := p.fragments[db.ID]; ok && len(cached) == len(db.Tables) {
		vec, err := p.provider.GenerateEmbedding(ctx, question)
		if err != nil {
			return nil, errors.NewBackendError(err, p.provider.GetName())
		}

		return embedding.Scores(vec, cached), nil
	}

	texts := append([]string{question}, Fragments(db)...)

	vectors, err := p.provider.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return nil, errors.NewBackendError(err, p.provider.GetName())
	}

	if len(vectors) != len(texts) {
		return nil, errors.Newf(errors.ErrTypeBackend,
			"%s returned %d embeddings for %d texts", p.provider.GetName(), len(vectors), len(texts))
	}

	return embedding.Scores(vectors[0], vectors[1:]), nil
}

func projection(db *schema.Database, table int, score float64) Projection {
	name := db.Tables[table]

	return Projection{
		Table:   name,
		Columns: append([]string{}, db.TableColumns[name]...),
		Score:   score,
	}
}
