package relevance_test

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/text2sql-router/internal/errors"
	"github.com/kyleking/text2sql-router/internal/relevance"
	"github.com/kyleking/text2sql-router/internal/testutil"
)

func TestGateAtDefaultThreshold(t *testing.T) {
	db := testutil.MustDatabase(t, testutil.LoadCorpus(t), testutil.ConcertSingerID)
	gate := relevance.New(testutil.NewCountingProvider(), relevance.DefaultThreshold)

	ok, err := gate.IsRelevant(testutil.Context(t), testutil.SingerQuestion, db.DescriptiveText)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = gate.IsRelevant(testutil.Context(t), testutil.WeatherQuestion, db.DescriptiveText)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGateOnFineGrainedText(t *testing.T) {
	db := testutil.MustDatabase(t, testutil.LoadCorpus(t), testutil.ConcertSingerID)
	gate := relevance.New(testutil.NewCountingProvider(), testutil.RelevantThreshold)

	tests := []struct {
		question string
		want     bool
	}{
		{testutil.SingerQuestion, true},
		{testutil.StadiumQuestion, true},
		{testutil.WeatherQuestion, false},
	}

	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			v, err := gate.Score(testutil.Context(t), tt.question, db.FineGrainedText())
			require.NoError(t, err)

			assert.Equal(t, tt.want, v.Relevant, "score %.4f", v.Score)
			assert.NotEmpty(t, v.Line)
		})
	}
}

func TestGateLowerCasesLines(t *testing.T) {
	gate := relevance.New(testutil.NewCountingProvider(), 0.3)

	v, err := gate.Score(testutil.Context(t), "SHOW THE NAME", "  Table SINGER: NAME  \n\n")
	require.NoError(t, err)

	assert.Equal(t, "table singer: name", v.Line)
	assert.InDelta(t, 1.0/3.0, v.Score, 1e-9)
	assert.True(t, v.Relevant)
}

func TestGateThresholdIsInclusive(t *testing.T) {
	// "a" against "a b c d" is exactly 0.5 under the hash embedder
	v, err := relevance.New(testutil.NewCountingProvider(), 0.5).
		Score(testutil.Context(t), "a", "a b c d")
	require.NoError(t, err)

	assert.Equal(t, 0.5, v.Score)
	assert.True(t, v.Relevant)

	ok, err := relevance.New(testutil.NewCountingProvider(), 0.51).
		IsRelevant(testutil.Context(t), "a", "a b c d")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGateWithoutLinesSkipsEmbedder(t *testing.T) {
	provider := testutil.NewCountingProvider()
	gate := relevance.New(provider, relevance.DefaultThreshold)

	for _, text := range []string{"", "\n\n", "   \n\t"} {
		v, err := gate.Score(testutil.Context(t), testutil.SingerQuestion, text)
		require.NoError(t, err)
		assert.False(t, v.Relevant)
		assert.Zero(t, v.Score)
	}

	assert.Zero(t, provider.Calls())
}

func TestGateEmbedsInOneCall(t *testing.T) {
	provider := testutil.NewCountingProvider()
	gate := relevance.New(provider, relevance.DefaultThreshold)

	_, err := gate.IsRelevant(testutil.Context(t), testutil.SingerQuestion, "table a: x\ntable b: y\n")
	require.NoError(t, err)

	assert.Equal(t, 1, provider.Calls())
	assert.Equal(t, 3, provider.Texts())
}

func TestGateBackendFailure(t *testing.T) {
	boom := stderrors.New("model server down")
	gate := relevance.New(testutil.NewFailingProvider(boom), relevance.DefaultThreshold)

	_, err := gate.IsRelevant(testutil.Context(t), testutil.SingerQuestion, "table singer: name")
	require.Error(t, err)

	assert.True(t, errors.IsType(err, errors.ErrTypeBackend))
	assert.ErrorIs(t, err, boom)
}

func TestNewDefaultsNegativeThreshold(t *testing.T) {
	assert.Equal(t, relevance.DefaultThreshold, relevance.New(testutil.NewCountingProvider(), -1).Threshold())
	assert.Zero(t, relevance.New(testutil.NewCountingProvider(), 0).Threshold())
}

func TestLines(t *testing.T) {
	assert.Equal(t, []string{"table a: x", "foreign key: a.x → b.y"},
		relevance.Lines("Table A: X\n\n  Foreign key: a.x → b.y  \n"))
	assert.Empty(t, relevance.Lines(" \n "))
}
