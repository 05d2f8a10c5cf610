package embedding

import (
	"math"
	"sort"
)

// CosineSimilarity returns the cosine of the angle between a and b. Vectors of
// different length, empty vectors and zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64

	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Scores computes the similarity of query against every candidate, in order.
func Scores(query []float32, candidates [][]float32) []float64 {
	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = CosineSimilarity(query, c)
	}

	return scores
}

// ArgMax returns the index of the strictly largest score; the earliest index
// wins ties. It returns -1 for an empty slice.
func ArgMax(scores []float64) int {
	best := -1

	for i, s := range scores {
		if best == -1 || s > scores[best] {
			best = i
		}
	}

	return best
}

// Ranked is an index into a candidate list with its score.
type Ranked struct {
	Index int
	Score float64
}

// TopK returns up to k candidates ordered by descending score. Equal scores
// keep their original order.
func TopK(scores []float64, k int) []Ranked {
	ranked := make([]Ranked, len(scores))
	for i, s := range scores {
		ranked[i] = Ranked{Index: i, Score: s}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if k >= 0 && k < len(ranked) {
		ranked = ranked[:k]
	}

	return ranked
}
