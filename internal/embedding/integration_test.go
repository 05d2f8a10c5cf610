//go:build integration

package embedding

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/kyleking/text2sql-router/internal/config"
	"github.com/kyleking/text2sql-router/internal/python"
)

var (
	providerOnce sync.Once
	testProvider *LocalProvider
	providerErr  error
)

// localProvider prepares the uv environment once per test binary.
func localProvider(t testing.TB) *LocalProvider {
	t.Helper()

	uvPath, err := python.FindUV()
	if err != nil {
		t.Skipf("uv not installed: %v", err)
	}

	providerOnce.Do(func() {
		cacheDir, err := os.MkdirTemp("", "embedding-integration-*")
		if err != nil {
			providerErr = err
			return
		}

		env, err := python.EnsureEnvironment(context.Background(), uvPath, cacheDir)
		if err != nil {
			providerErr = err
			return
		}

		testProvider = NewLocalProvider(config.DefaultConfig().Embedding, env)
		suiteCleanups = append(suiteCleanups, func() { _ = testProvider.Close() })
		warmEmbeddings(testProvider)
	})

	if providerErr != nil {
		t.Fatalf("failed to setup Python env: %v", providerErr)
	}

	return testProvider
}

func warmEmbeddings(p *LocalProvider) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if _, err := p.GenerateEmbedding(ctx, "warm up the model cache"); err != nil {
		fmt.Fprintf(os.Stderr, "embedding pre-warm failed (tests may be slower): %v\n", err)
	}
}

func TestEmbeddingDeterminism(t *testing.T) {
	ctx := context.Background()
	text := "Table singer: Singer_ID, Name, Country, Song_Name, Age"

	emb1, err := localProvider(t).GenerateEmbedding(ctx, text)
	if err != nil {
		t.Fatalf("first embedding: %v", err)
	}

	emb2, err := localProvider(t).GenerateEmbedding(ctx, text)
	if err != nil {
		t.Fatalf("second embedding: %v", err)
	}

	for i := range emb1 {
		if emb1[i] != emb2[i] {
			t.Fatalf("embeddings differ at index %d: %f vs %f", i, emb1[i], emb2[i])
		}
	}
}

func TestEmbeddingSemanticRouting(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name      string
		question  string
		matching  string
		unrelated string
	}{
		{
			name:      "singers",
			question:  "How many singers do we have?",
			matching:  "Table singer: Singer_ID, Name, Country, Song_Name, Song_release_year, Age, Is_male",
			unrelated: "Table flights: Airline, FlightNo, SourceAirport, DestAirport",
		},
		{
			name:      "pets",
			question:  "What is the average weight of dogs?",
			matching:  "Table Pets: PetID, PetType, pet_age, weight",
			unrelated: "Table stadium: Stadium_ID, Location, Name, Capacity",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			embs, err := localProvider(t).GenerateEmbeddings(ctx, []string{tc.question, tc.matching, tc.unrelated})
			if err != nil {
				t.Fatalf("batch embedding: %v", err)
			}

			match := CosineSimilarity(embs[0], embs[1])
			unrelated := CosineSimilarity(embs[0], embs[2])

			if match <= unrelated {
				t.Errorf("matching schema should score higher: match=%.4f unrelated=%.4f", match, unrelated)
			}

			t.Logf("match=%.4f unrelated=%.4f", match, unrelated)
		})
	}
}

func TestEmbeddingBatchConsistency(t *testing.T) {
	ctx := context.Background()

	texts := []string{
		"Table concert: concert_ID, concert_Name, Theme, Stadium_ID, Year",
		"Table Student: StuID, LName, Fname, Age, Sex, Major",
		"what is the weather today",
	}

	batchEmbs, err := localProvider(t).GenerateEmbeddings(ctx, texts)
	if err != nil {
		t.Fatalf("batch embedding: %v", err)
	}

	for i, text := range texts {
		singleEmb, err := localProvider(t).GenerateEmbedding(ctx, text)
		if err != nil {
			t.Fatalf("single embedding %d: %v", i, err)
		}

		if sim := CosineSimilarity(batchEmbs[i], singleEmb); sim < 0.999 {
			t.Errorf("batch[%d] vs single similarity=%.6f (expected >=0.999)", i, sim)
		}
	}
}

func TestEmbeddingUnitNorm(t *testing.T) {
	emb, err := localProvider(t).GenerateEmbedding(context.Background(), "sentence-transformers produce unit-norm vectors")
	if err != nil {
		t.Fatalf("embedding: %v", err)
	}

	if len(emb) != localProvider(t).GetDimensions() {
		t.Fatalf("expected %d dimensions, got %d", localProvider(t).GetDimensions(), len(emb))
	}

	var norm float64
	for _, v := range emb {
		norm += float64(v) * float64(v)
	}

	if math.Abs(math.Sqrt(norm)-1.0) > 0.01 {
		t.Errorf("expected unit norm (~1.0), got %.6f", math.Sqrt(norm))
	}
}

func BenchmarkEmbeddingBatch(b *testing.B) {
	ctx := context.Background()
	texts := []string{
		"Table singer: Singer_ID, Name, Country",
		"Table concert: concert_ID, concert_Name, Theme",
		"Table stadium: Stadium_ID, Location, Name, Capacity",
	}

	p := localProvider(b)

	for b.Loop() {
		if _, err := p.GenerateEmbeddings(ctx, texts); err != nil {
			b.Fatal(err)
		}
	}
}
