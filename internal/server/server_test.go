package server_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kyleking/text2sql-router/internal/config"
	"github.com/kyleking/text2sql-router/internal/errors"
	"github.com/kyleking/text2sql-router/internal/executor"
	"github.com/kyleking/text2sql-router/internal/llm"
	"github.com/kyleking/text2sql-router/internal/monitor"
	"github.com/kyleking/text2sql-router/internal/pipeline"
	"github.com/kyleking/text2sql-router/internal/server"
	"github.com/kyleking/text2sql-router/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

func newPipeline(t *testing.T, gen llm.Generator) *pipeline.Pipeline {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Relevance.Threshold = testutil.RelevantThreshold

	p, err := pipeline.Build(testutil.Context(t), cfg, testutil.LoadCorpus(t), testutil.NewCountingProvider(), gen)
	require.NoError(t, err)

	return p
}

func newExecutor(t *testing.T) executor.Executor {
	t.Helper()

	path := filepath.Join(t.TempDir(), "final.sqlite")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)

	_, err = db.Exec("create table singer (singer_id integer, name text); insert into singer values (1, 'Joe Sharp');")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	exec, err := executor.OpenSQL(context.Background(), executor.DriverSQLite, path, executor.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = exec.Close() })

	return exec
}

func newServer(t *testing.T, gen llm.Generator, exec executor.Executor) http.Handler {
	t.Helper()

	return server.New(newPipeline(t, gen), exec, config.DefaultConfig().Server).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader = http.NoBody

	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())

	return v
}

func TestPing(t *testing.T) {
	h := newServer(t, testutil.NewFakeGenerator(), nil)

	rec := do(t, h, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
}

func TestDebugMemory(t *testing.T) {
	srv := server.New(newPipeline(t, testutil.NewFakeGenerator()), nil, config.DefaultConfig().Server)

	rec := do(t, srv.Handler(), http.MethodGet, "/debug/memory", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h := srv.WithMemoryMonitor(monitor.NewMemoryMonitor()).Handler()

	rec = do(t, h, http.MethodGet, "/debug/memory", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	stats := decode[monitor.MemoryStats](t, rec)
	assert.Positive(t, stats.AllocMB)
	assert.Positive(t, stats.GoroutineCount)
}

func TestMatchSchema(t *testing.T) {
	h := newServer(t, testutil.NewFakeGenerator(), nil)

	rec := do(t, h, http.MethodPost, "/match_schema/", server.QuestionRequest{Question: testutil.SingerQuestion})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[pipeline.MatchResponse](t, rec)
	assert.Equal(t, testutil.ConcertSingerID, resp.DBID)
	assert.True(t, resp.Relevant)
	assert.Contains(t, resp.Schema, "Table singer:")

	rec = do(t, h, http.MethodPost, "/match_schema/", server.QuestionRequest{Question: testutil.WeatherQuestion})
	require.Equal(t, http.StatusOK, rec.Code)

	resp = decode[pipeline.MatchResponse](t, rec)
	assert.False(t, resp.Relevant)
	assert.Equal(t, pipeline.NotRelevantMessage, resp.Message)
}

func TestRejectsBadBodies(t *testing.T) {
	h := newServer(t, testutil.NewFakeGenerator(), nil)

	tests := []struct {
		name    string
		path    string
		body    any
		wantMsg string
	}{
		{"missing question", "/match_schema/", map[string]string{}, "question is required"},
		{"empty question", "/generate-sql/", server.QuestionRequest{}, "question is required"},
		{"missing sql", "/validate-sql/", map[string]string{"db_id": testutil.PetsID}, "sql is required"},
		{"malformed json", "/generate-sql/", `{"question":`, "invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tt.path, tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			resp := decode[server.ErrorResponse](t, rec)
			assert.Equal(t, string(errors.ErrTypeValidation), resp.ErrorType)
			assert.Equal(t, tt.wantMsg, resp.Error)
		})
	}
}

func TestGenerateSQL(t *testing.T) {
	h := newServer(t, testutil.NewFakeGenerator(), nil)

	rec := do(t, h, http.MethodPost, "/generate-sql/", server.QuestionRequest{Question: testutil.SingerQuestion})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[pipeline.GenerateResponse](t, rec)
	assert.Equal(t, testutil.SingerQuestion, resp.Question)
	assert.Equal(t, testutil.ConcertSingerID, resp.DBID)
	assert.Equal(t, "select name, country, age from singer;", resp.SQL)
	assert.True(t, resp.Valid)
	assert.NotEmpty(t, resp.RequestID)
}

func TestGenerateSQLStructuredFailure(t *testing.T) {
	h := newServer(t, testutil.NewFakeGenerator(testutil.WithCompletion("ghost_col from singer")), nil)

	rec := do(t, h, http.MethodPost, "/generate-sql/", server.QuestionRequest{Question: testutil.SingerQuestion})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[pipeline.GenerateResponse](t, rec)
	assert.False(t, resp.Valid)
	assert.Equal(t, string(errors.ErrTypeSchemaViolation), resp.ErrorType)
	assert.Equal(t, []string{"ghost_col"}, resp.UnknownColumns)
}

func TestGenerateSQLBackendUnavailable(t *testing.T) {
	gen := testutil.NewFakeGenerator(testutil.WithGenerateError(stderrors.New("connection refused")))
	h := newServer(t, gen, nil)

	rec := do(t, h, http.MethodPost, "/generate-sql/", server.QuestionRequest{Question: testutil.SingerQuestion})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	resp := decode[server.ErrorResponse](t, rec)
	assert.Equal(t, string(errors.ErrTypeBackend), resp.ErrorType)
	assert.NotEmpty(t, resp.Suggestions)
}

func TestValidateSQL(t *testing.T) {
	h := newServer(t, testutil.NewFakeGenerator(), nil)

	rec := do(t, h, http.MethodPost, "/validate-sql/", server.ValidateRequest{DBID: testutil.ConcertSingerID, SQL: "SELECT name FROM singer;"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[server.ValidateResponse](t, rec)
	assert.True(t, resp.Valid)
	assert.Equal(t, []string{"singer"}, resp.TablesUsed)
	assert.Empty(t, resp.Error)

	rec = do(t, h, http.MethodPost, "/validate-sql/", server.ValidateRequest{DBID: testutil.ConcertSingerID, SQL: "SELECT ghost_col FROM singer;"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp = decode[server.ValidateResponse](t, rec)
	assert.False(t, resp.Valid)
	assert.Equal(t, []string{"ghost_col"}, resp.UnknownColumns)
	assert.Contains(t, resp.Error, "ghost_col")

	rec = do(t, h, http.MethodPost, "/validate-sql/", server.ValidateRequest{DBID: "nope", SQL: "select 1;"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecuteQuery(t *testing.T) {
	h := newServer(t, testutil.NewFakeGenerator(), newExecutor(t))

	rec := do(t, h, http.MethodPost, "/execute-query", server.QueryRequest{Query: "SELECT name FROM singer"})
	require.Equal(t, http.StatusOK, rec.Code)

	var rows struct {
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows.Results, 1)
	assert.Equal(t, "Joe Sharp", rows.Results[0]["name"])

	rec = do(t, h, http.MethodPost, "/execute-query", server.QueryRequest{Query: "insert into singer values (2, 'Timbaland')"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"message": %q}`, executor.SuccessMessage), rec.Body.String())

	rec = do(t, h, http.MethodPost, "/execute-query", server.QueryRequest{Query: "select * from ghost"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(errors.ErrTypeDatabase), decode[server.ErrorResponse](t, rec).ErrorType)
}

func TestExecuteQueryWithoutExecutor(t *testing.T) {
	h := newServer(t, testutil.NewFakeGenerator(), nil)

	rec := do(t, h, http.MethodPost, "/execute-query", server.QueryRequest{Query: "select 1"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORS(t *testing.T) {
	h := newServer(t, testutil.NewFakeGenerator(), nil)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "http://localhost:3000")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.New(errors.ErrTypeValidation, "x"), http.StatusBadRequest},
		{errors.New(errors.ErrTypeDatabase, "x"), http.StatusBadRequest},
		{errors.New(errors.ErrTypeNotFound, "x"), http.StatusNotFound},
		{errors.New(errors.ErrTypeInvalidSQL, "x"), http.StatusUnprocessableEntity},
		{errors.NewBackendError(stderrors.New("down"), "ollama"), http.StatusServiceUnavailable},
		{errors.NewBackendError(context.DeadlineExceeded, "ollama"), http.StatusGatewayTimeout},
		{stderrors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, server.StatusFor(tt.err))
		})
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	srv := server.New(newPipeline(t, testutil.NewFakeGenerator()), nil, config.ServerConfig{ShutdownTimeout: "2s"})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- srv.Serve(ctx, ln) }()

	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get("http://" + ln.Addr().String() + "/ping")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	client.CloseIdleConnections()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
