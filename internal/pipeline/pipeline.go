// Package pipeline composes matching, gating, projection, generation and
// validation into the request flow served by the CLI and the HTTP server.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kyleking/text2sql-router/internal/config"
	"github.com/kyleking/text2sql-router/internal/embedding"
	"github.com/kyleking/text2sql-router/internal/errors"
	"github.com/kyleking/text2sql-router/internal/llm"
	"github.com/kyleking/text2sql-router/internal/logging"
	"github.com/kyleking/text2sql-router/internal/matcher"
	"github.com/kyleking/text2sql-router/internal/projector"
	"github.com/kyleking/text2sql-router/internal/relevance"
	"github.com/kyleking/text2sql-router/internal/schema"
	"github.com/kyleking/text2sql-router/internal/sqlcheck"
)

// NotRelevantMessage explains a gated question
const NotRelevantMessage = "Question is not relevant to the matched database schema."

// Options tune the generation stages
type Options struct {
	TopK        int
	Margin      float64
	SyntaxCheck bool
	Strict      bool
}

// OptionsFromConfig reads the projector and sqlcheck sections
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		TopK:        cfg.Projector.TopK,
		Margin:      cfg.Projector.Margin,
		SyntaxCheck: cfg.SQLCheck.SyntaxCheck,
		Strict:      cfg.SQLCheck.Strict,
	}
}

// MatchResponse is the routed database, its schema and the gate verdict
type MatchResponse struct {
	RequestID string  `json:"request_id"`
	Question  string  `json:"question"`
	DBID      string  `json:"db_id"`
	Schema    string  `json:"schema"`
	Relevant  bool    `json:"relevant"`
	Score     float64 `json:"score"`
	Message   string  `json:"message,omitempty"`
}

// GenerateResponse carries the generated SQL and, for per-request failures,
// the error and its type. Schema is the projected schema shown to the model.
type GenerateResponse struct {
	RequestID      string   `json:"request_id"`
	Question       string   `json:"question"`
	DBID           string   `json:"db_id"`
	Schema         string   `json:"schema"`
	SQL            string   `json:"sql"`
	Valid          bool     `json:"valid"`
	Relevant       bool     `json:"relevant"`
	Error          string   `json:"error,omitempty"`
	ErrorType      string   `json:"error_type,omitempty"`
	UnknownTables  []string `json:"unknown_tables,omitempty"`
	UnknownColumns []string `json:"unknown_columns,omitempty"`
	Suggestions    []string `json:"suggestions,omitempty"`
}

// Pipeline is read-only after construction and safe for concurrent use
type Pipeline struct {
	corpus    *schema.Corpus
	matcher   *matcher.Matcher
	gate      *relevance.Gate
	projector *projector.Projector
	generator llm.Generator
	opts      Options
}

// New assembles a pipeline from already-built stages
func New(m *matcher.Matcher, gate *relevance.Gate, proj *projector.Projector, gen llm.Generator, opts Options) *Pipeline {
	return &Pipeline{
		corpus:    m.Corpus(),
		matcher:   m,
		gate:      gate,
		projector: proj,
		generator: gen,
		opts:      opts,
	}
}

// Build precomputes the corpus embeddings and wires every stage from cfg
func Build(ctx context.Context, cfg *config.Config, corpus *schema.Corpus, provider embedding.Provider, gen llm.Generator) (*Pipeline, error) {
	batch, workers := cfg.Embedding.BatchSize, cfg.Embedding.Concurrency

	m, err := matcher.New(ctx, corpus, provider, matcher.WithBatchSize(batch), matcher.WithConcurrency(workers))
	if err != nil {
		return nil, err
	}

	proj, err := projector.Warm(ctx, provider, corpus, batch, workers)
	if err != nil {
		return nil, err
	}

	gate := relevance.New(provider, cfg.Relevance.Threshold)

	return New(m, gate, proj, gen, OptionsFromConfig(cfg)), nil
}

// Corpus returns the corpus the pipeline routes over
func (p *Pipeline) Corpus() *schema.Corpus {
	return p.corpus
}

// Rank returns the k best-matching databases without gating
func (p *Pipeline) Rank(ctx context.Context, question string, k int) ([]matcher.Result, error) {
	return p.matcher.Rank(ctx, question, k)
}

// Match routes the question and gates it on the database's fine-grained schema
func (p *Pipeline) Match(ctx context.Context, question string) (*MatchResponse, error) {
	return p.match(ctx, uuid.NewString(), question)
}

func (p *Pipeline) match(ctx context.Context, requestID, question string) (*MatchResponse, error) {
	log := logging.WithField("request_id", requestID)

	result, err := p.matcher.Match(ctx, question)
	if err != nil {
		return nil, err
	}

	db, _ := p.corpus.Lookup(result.DBID)
	text := db.FineGrainedText()

	log.WithFields(map[string]any{"db_id": result.DBID, "score": result.Score}).Debug("Matched schema")

	verdict, err := p.gate.Score(ctx, question, text)
	if err != nil {
		return nil, err
	}

	log.WithFields(map[string]any{"relevant": verdict.Relevant, "score": verdict.Score}).Debug("Gated question")

	resp := &MatchResponse{
		RequestID: requestID,
		Question:  question,
		DBID:      result.DBID,
		Schema:    text,
		Relevant:  verdict.Relevant,
		Score:     verdict.Score,
	}

	if !verdict.Relevant {
		resp.Message = NotRelevantMessage
	}

	return resp, nil
}

// Generate runs the full flow. Irrelevant questions, unparsable SQL and
// schema violations are reported in the response; only backend failures
// return an error.
func (p *Pipeline) Generate(ctx context.Context, question string) (*GenerateResponse, error) {
	requestID := uuid.NewString()
	log := logging.WithField("request_id", requestID)
	start := time.Now()

	match, err := p.match(ctx, requestID, question)
	if err != nil {
		return nil, err
	}

	resp := &GenerateResponse{
		RequestID: requestID,
		Question:  question,
		DBID:      match.DBID,
		Schema:    match.Schema,
		Relevant:  match.Relevant,
	}

	if !match.Relevant {
		resp.setError(errors.New(errors.ErrTypeNoRelevantSchema, NotRelevantMessage).
			WithSuggestion("Ask about tables and columns of one of the known databases"))

		return resp, nil
	}

	db, _ := p.corpus.Lookup(match.DBID)

	projections, err := p.projector.ProjectTopK(ctx, question, db, p.opts.TopK, p.opts.Margin)
	if err != nil {
		return nil, err
	}

	resp.Schema = projector.RenderAll(projections)
	log.WithField("tables", len(projections)).Debug("Projected schema")

	raw, err := p.generator.Generate(ctx, llm.BuildPrompt(resp.Schema, question))
	if err != nil {
		if !errors.IsType(err, errors.ErrTypeBackend) {
			err = errors.NewBackendError(err, p.generator.Name())
		}

		return nil, err
	}

	resp.SQL = llm.CleanOutput(raw)

	if err := sqlcheck.CheckSyntax(resp.SQL, p.opts.SyntaxCheck); err != nil {
		resp.setError(err)
	} else {
		outcome := p.validate(resp.SQL, db)
		resp.Valid = outcome.Valid
		resp.UnknownTables = outcome.UnknownTables
		resp.UnknownColumns = outcome.UnknownColumns

		if err := outcome.Err(); err != nil {
			resp.setError(err)
		}
	}

	log.WithFields(map[string]any{
		"db_id":    resp.DBID,
		"valid":    resp.Valid,
		"duration": time.Since(start).String(),
	}).Info("Generated SQL")

	return resp, nil
}

// Validate checks sql against the named database
func (p *Pipeline) Validate(ctx context.Context, dbID, sql string) (sqlcheck.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return sqlcheck.Outcome{}, err
	}

	db, ok := p.corpus.Lookup(dbID)
	if !ok {
		return sqlcheck.Outcome{}, errors.Newf(errors.ErrTypeNotFound, "unknown database %q", dbID)
	}

	return p.validate(sql, db), nil
}

func (p *Pipeline) validate(sql string, db *schema.Database) sqlcheck.Outcome {
	if p.opts.Strict {
		return sqlcheck.ValidateStrict(sql, db)
	}

	return sqlcheck.Validate(sql, db)
}

func (r *GenerateResponse) setError(err error) {
	r.Valid = false
	r.Error = err.Error()
	r.ErrorType = string(errors.GetType(err))

	var structured *errors.Error
	if errors.As(err, &structured) {
		r.Error = structured.Message
		r.Suggestions = structured.Suggestions
	}
}

// Prediction is one line of a prediction export
type Prediction struct {
	Question string `json:"question"`
	DBID     string `json:"db_id"`
	SQL      string `json:"sql"`
	Error    string `json:"error,omitempty"`
}

// Predict generates SQL for each question in order. A backend failure stops
// the batch and returns the predictions made so far.
func (p *Pipeline) Predict(ctx context.Context, questions []string) ([]Prediction, error) {
	preds := make([]Prediction, 0, len(questions))

	for i, q := range questions {
		resp, err := p.Generate(ctx, q)
		if err != nil {
			return preds, fmt.Errorf("question %d: %w", i+1, err)
		}

		preds = append(preds, Prediction{Question: q, DBID: resp.DBID, SQL: resp.SQL, Error: resp.Error})
	}

	return preds, nil
}

// WritePredictions writes one "db_id<TAB>sql" line per prediction with any
// newlines inside the SQL flattened to spaces
func WritePredictions(w io.Writer, preds []Prediction) error {
	for _, pred := range preds {
		sql := strings.ReplaceAll(strings.TrimSpace(pred.SQL), "\n", " ")
		if _, err := fmt.Fprintf(w, "%s\t%s\n", pred.DBID, sql); err != nil {
			return err
		}
	}

	return nil
}
