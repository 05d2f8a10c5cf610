package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

// DefaultHashDimensions is used when no dimension is configured for the hash provider.
const DefaultHashDimensions = 1024

// HashProvider embeds text as a bag of lower-cased alphanumeric tokens hashed
// into a fixed number of buckets. It needs no model, so texts with disjoint
// vocabularies score 0 apart from bucket collisions.
type HashProvider struct {
	dimensions int
}

// NewHashProvider creates a hash provider; dimensions <= 0 selects DefaultHashDimensions.
func NewHashProvider(dimensions int) *HashProvider {
	if dimensions <= 0 {
		dimensions = DefaultHashDimensions
	}

	return &HashProvider{dimensions: dimensions}
}

// Tokenize splits text on anything that is not a letter or digit and lower-cases the parts.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func (p *HashProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, p.dimensions)

	for _, token := range Tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vec[h.Sum32()%uint32(p.dimensions)]++
	}

	return vec, nil
}

func (p *HashProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	return embedSequentially(ctx, texts, p.GenerateEmbedding)
}

func (p *HashProvider) GetDimensions() int {
	return p.dimensions
}

func (p *HashProvider) IsEnabled() bool {
	return true
}

func (p *HashProvider) GetName() string {
	return fmt.Sprintf("hash:%d", p.dimensions)
}
