package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/kyleking/text2sql-router/internal/config"
	"github.com/kyleking/text2sql-router/internal/errors"
)

const defaultGenAIModel = "gemini-2.5-flash"

// contentGenerator is the slice of the GenAI SDK the generator uses
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GenAIGenerator completes prompts with the Gemini API
type GenAIGenerator struct {
	models      contentGenerator
	model       string
	temperature float32
	maxTokens   int32
}

// NewGenAIGenerator creates a Gemini client. An empty API key lets the SDK
// fall back to GOOGLE_API_KEY / GEMINI_API_KEY.
func NewGenAIGenerator(ctx context.Context, cfg config.LLMConfig) (*GenAIGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return newGenAIGenerator(client.Models, cfg), nil
}

func newGenAIGenerator(models contentGenerator, cfg config.LLMConfig) *GenAIGenerator {
	model := cfg.Model
	if model == "" {
		model = defaultGenAIModel
	}

	return &GenAIGenerator{
		models:      models,
		model:       model,
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(cfg.MaxTokens),
	}
}

// Name identifies the backend and model
func (g *GenAIGenerator) Name() string {
	return ProviderGenAI + ":" + g.model
}

// Generate asks the model to continue the prompt
func (g *GenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	genConfig := &genai.GenerateContentConfig{
		Temperature:   genai.Ptr(g.temperature),
		StopSequences: StopSequences,
	}
	if g.maxTokens > 0 {
		genConfig.MaxOutputTokens = g.maxTokens
	}

	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), genConfig)
	if err != nil {
		return "", errors.NewBackendError(err, g.Name())
	}

	return resp.Text(), nil
}
