package projector_test

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/text2sql-router/internal/errors"
	"github.com/kyleking/text2sql-router/internal/projector"
	"github.com/kyleking/text2sql-router/internal/testutil"
)

func TestProjectPicksMostSimilarTable(t *testing.T) {
	db := testutil.MustDatabase(t, testutil.LoadCorpus(t), testutil.ConcertSingerID)
	p := projector.New(testutil.NewCountingProvider())

	tests := []struct {
		question string
		table    string
	}{
		{testutil.SingerQuestion, "singer"},
		{testutil.StadiumQuestion, "stadium"},
		{"which singers performed in each concert", "singer_in_concert"},
		// all scores 0: first table wins
		{"zzz", "stadium"},
	}

	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			got, err := p.Project(testutil.Context(t), tt.question, db)
			require.NoError(t, err)

			assert.Equal(t, tt.table, got.Table)
			assert.Equal(t, db.TableColumns[tt.table], got.Columns)
			assert.True(t, db.HasTable(got.Table))
		})
	}
}

func TestProjectionString(t *testing.T) {
	p := projector.Projection{Table: "singer", Columns: []string{"Name", "Age"}}
	assert.Equal(t, "<tab>singer</tab>(<col>Name</col>, <col>Age</col>)", p.String())

	empty := projector.Projection{Table: "archive", Columns: []string{}}
	assert.Equal(t, "<tab>archive</tab>()", empty.String())

	assert.Equal(t, "<tab>singer</tab>(<col>Name</col>, <col>Age</col>)\n<tab>archive</tab>()",
		projector.RenderAll([]projector.Projection{p, empty}))
}

func TestProjectAlwaysReturnsMemberTable(t *testing.T) {
	corpus := testutil.LoadCorpus(t)
	p := projector.New(testutil.NewCountingProvider())

	questions := []string{testutil.SingerQuestion, testutil.WeatherQuestion, "", "pets flights airports"}

	for _, db := range corpus.Databases() {
		for _, q := range questions {
			got, err := p.Project(testutil.Context(t), q, db)
			require.NoError(t, err)
			assert.True(t, db.HasTable(got.Table), "%s: %q projected %q", db.ID, q, got.Table)
		}
	}
}

func TestProjectFragmentSelfRetrieval(t *testing.T) {
	corpus := testutil.LoadCorpus(t)
	p := projector.New(testutil.NewCountingProvider())

	for _, db := range corpus.Databases() {
		for _, table := range db.Tables {
			got, err := p.Project(testutil.Context(t), db.TableFragment(table), db)
			require.NoError(t, err)
			assert.Equal(t, table, got.Table)
		}
	}
}

func TestProjectTableWithoutColumns(t *testing.T) {
	record := testutil.NewTestDatabase("sparse",
		testutil.WithTable("archive"),
		testutil.WithTable("events", "id", "title"),
	)
	db := testutil.LoadCorpus(t, record).First()

	assert.Equal(t, []string{"archive: ", "events: id, title"}, projector.Fragments(db))

	got, err := projector.New(testutil.NewCountingProvider()).Project(testutil.Context(t), "archive", db)
	require.NoError(t, err)

	assert.Equal(t, "archive", got.Table)
	assert.Equal(t, "<tab>archive</tab>()", got.String())
}

func TestProjectRejectsDatabaseWithoutTables(t *testing.T) {
	db := testutil.LoadCorpus(t, testutil.NewTestDatabase("empty")).First()
	provider := testutil.NewCountingProvider()

	_, err := projector.New(provider).Project(testutil.Context(t), testutil.SingerQuestion, db)
	require.Error(t, err)

	assert.True(t, errors.IsType(err, errors.ErrTypeCorpusFormat))
	assert.Zero(t, provider.Calls())
}

func TestProjectTopK(t *testing.T) {
	db := testutil.MustDatabase(t, testutil.LoadCorpus(t), testutil.ConcertSingerID)
	p := projector.New(testutil.NewCountingProvider())
	q := "which singers performed in each concert"

	got, err := p.ProjectTopK(testutil.Context(t), q, db, 3, 0.05)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "singer_in_concert", got[0].Table)
	assert.Equal(t, "concert", got[1].Table)

	narrow, err := p.ProjectTopK(testutil.Context(t), q, db, 3, 0.01)
	require.NoError(t, err)
	require.Len(t, narrow, 1)

	single, err := p.ProjectTopK(testutil.Context(t), q, db, 1, 1)
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, "singer_in_concert", single[0].Table)
}

func TestWarmReusesFragmentVectors(t *testing.T) {
	corpus := testutil.LoadCorpus(t)
	provider := testutil.NewCountingProvider()

	warm, err := projector.Warm(testutil.Context(t), provider, corpus, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, 10, provider.Texts())

	provider.Reset()

	db := testutil.MustDatabase(t, corpus, testutil.ConcertSingerID)
	cold, err := projector.New(testutil.NewCountingProvider()).Project(testutil.Context(t), testutil.SingerQuestion, db)
	require.NoError(t, err)

	got, err := warm.Project(testutil.Context(t), testutil.SingerQuestion, db)
	require.NoError(t, err)

	assert.Equal(t, cold, got)
	assert.Equal(t, 1, provider.Texts())
}

func TestProjectBackendFailure(t *testing.T) {
	boom := stderrors.New("no model")
	db := testutil.MustDatabase(t, testutil.LoadCorpus(t), testutil.PetsID)

	_, err := projector.New(testutil.NewFailingProvider(boom)).Project(testutil.Context(t), "pets", db)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeBackend))

	_, err = projector.Warm(testutil.Context(t), testutil.NewFailingProvider(boom), testutil.LoadCorpus(t), 4, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}
