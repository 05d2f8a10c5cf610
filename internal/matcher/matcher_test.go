package matcher_test

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kyleking/text2sql-router/internal/errors"
	"github.com/kyleking/text2sql-router/internal/matcher"
	"github.com/kyleking/text2sql-router/internal/schema"
	"github.com/kyleking/text2sql-router/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newMatcher(t *testing.T, records ...testutil.DatabaseRecord) (*matcher.Matcher, *testutil.CountingProvider) {
	t.Helper()

	provider := testutil.NewCountingProvider()

	m, err := matcher.New(testutil.Context(t), testutil.LoadCorpus(t, records...), provider,
		matcher.WithConcurrency(2), matcher.WithBatchSize(1))
	require.NoError(t, err)

	provider.Reset()

	return m, provider
}

func TestMatchRoutesQuestions(t *testing.T) {
	m, _ := newMatcher(t)

	tests := []struct {
		question string
		want     string
	}{
		{testutil.SingerQuestion, testutil.ConcertSingerID},
		{testutil.StadiumQuestion, testutil.ConcertSingerID},
		{"what is the average weight of pets for each student", testutil.PetsID},
		{"list every airline and its country", testutil.FlightsID},
	}

	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			got, err := m.Match(testutil.Context(t), tt.question)
			require.NoError(t, err)

			assert.Equal(t, tt.want, got.DBID)
			assert.Greater(t, got.Score, 0.0)
		})
	}
}

func TestMatchSelfRetrieval(t *testing.T) {
	m, _ := newMatcher(t)

	for _, db := range m.Corpus().Databases() {
		got, err := m.Match(testutil.Context(t), db.DescriptiveText)
		require.NoError(t, err)

		assert.Equal(t, db.ID, got.DBID)
		assert.InDelta(t, 1.0, got.Score, 1e-6)
		assert.Equal(t, db.DescriptiveText, got.Text)
	}
}

func TestMatchIsIdempotent(t *testing.T) {
	m, _ := newMatcher(t)
	ctx := testutil.Context(t)

	first, err := m.Match(ctx, testutil.SingerQuestion)
	require.NoError(t, err)

	for range 5 {
		again, err := m.Match(ctx, testutil.SingerQuestion)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestMatchTiesGoToEarliestDatabase(t *testing.T) {
	twin := func(id string) testutil.DatabaseRecord {
		return testutil.NewTestDatabase(id, testutil.WithTable("orders", "id", "total"))
	}

	m, _ := newMatcher(t, twin("first"), twin("second"))

	got, err := m.Match(testutil.Context(t), "orders total")
	require.NoError(t, err)
	assert.Equal(t, "first", got.DBID)

	// no shared vocabulary: every score is 0
	got, err = m.Match(testutil.Context(t), "zzz qqq")
	require.NoError(t, err)
	assert.Equal(t, "first", got.DBID)
	assert.Zero(t, got.Score)
}

func TestMatchEmptyQuestionSkipsEmbedder(t *testing.T) {
	m, provider := newMatcher(t)

	for _, q := range []string{"", "   ", "\n\t"} {
		got, err := m.Match(testutil.Context(t), q)
		require.NoError(t, err)

		assert.Equal(t, testutil.ConcertSingerID, got.DBID)
		assert.Zero(t, got.Score)
	}

	assert.Zero(t, provider.Calls())
}

func TestMatchEmbedsQuestionOnce(t *testing.T) {
	m, provider := newMatcher(t)

	_, err := m.Match(testutil.Context(t), testutil.SingerQuestion)
	require.NoError(t, err)

	assert.Equal(t, 1, provider.Calls())
	assert.Equal(t, 1, provider.Texts())
}

func TestRank(t *testing.T) {
	m, _ := newMatcher(t)

	ranked, err := m.Rank(testutil.Context(t), testutil.SingerQuestion, 2)
	require.NoError(t, err)
	require.Len(t, ranked, 2)

	assert.Equal(t, testutil.ConcertSingerID, ranked[0].DBID)
	assert.GreaterOrEqual(t, ranked[0].Score, ranked[1].Score)

	all, err := m.Rank(testutil.Context(t), testutil.SingerQuestion, -1)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	empty, err := m.Rank(testutil.Context(t), "", 3)
	require.NoError(t, err)
	require.Len(t, empty, 1)
	assert.Equal(t, testutil.ConcertSingerID, empty[0].DBID)
}

func TestNewRejectsEmptyCorpus(t *testing.T) {
	corpus, err := schema.NewCorpus(nil)
	require.NoError(t, err)

	_, err = matcher.New(context.Background(), corpus, testutil.NewCountingProvider())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeCorpusFormat))
}

func TestBackendFailures(t *testing.T) {
	boom := stderrors.New("connection refused")

	_, err := matcher.New(testutil.Context(t), testutil.LoadCorpus(t), testutil.NewFailingProvider(boom))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeBackend))
	assert.ErrorIs(t, err, boom)
}

func TestMatchPropagatesCancellation(t *testing.T) {
	m, _ := newMatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Match(ctx, testutil.SingerQuestion)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeBackend))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentMatches(t *testing.T) {
	m, _ := newMatcher(t)

	testutil.RunConcurrent(t, 8, func(int) {
		got, err := m.Match(context.Background(), testutil.SingerQuestion)
		assert.NoError(t, err)
		assert.Equal(t, testutil.ConcertSingerID, got.DBID)
	})
}
