package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/kyleking/text2sql-router/internal/config"
)

const (
	defaultGenAIModel = "gemini-embedding-001"
	genAITaskType     = "SEMANTIC_SIMILARITY"
)

// GenAIProvider generates embeddings using the Gemini API.
type GenAIProvider struct {
	client     *genai.Client
	model      string
	dimensions int
}

// NewGenAIProvider creates a Gemini embedding provider. An empty API key lets
// the SDK fall back to GOOGLE_API_KEY / GEMINI_API_KEY.
func NewGenAIProvider(ctx context.Context, cfg config.EmbeddingConfig) (*GenAIProvider, error) {
	model := cfg.Model
	if model == "" {
		model = defaultGenAIModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIProvider{client: client, model: model, dimensions: cfg.Dimensions}, nil
}

func (p *GenAIProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	return embeddings[0], nil
}

// GenerateEmbeddings uses the native batch call.
func (p *GenAIProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	embedConfig := &genai.EmbedContentConfig{TaskType: genAITaskType}
	if p.dimensions > 0 {
		dims := int32(p.dimensions)
		embedConfig.OutputDimensionality = &dims
	}

	result, err := p.client.Models.EmbedContent(ctx, p.model, contents, embedConfig)
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}

	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		embeddings[i] = emb.Values
	}

	return embeddings, nil
}

func (p *GenAIProvider) GetDimensions() int {
	return p.dimensions
}

func (p *GenAIProvider) IsEnabled() bool {
	return p.client != nil
}

func (p *GenAIProvider) GetName() string {
	return "genai:" + p.model
}
