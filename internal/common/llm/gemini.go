package llm

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
)

// GeminiModel calls Gemini through langchaingo with JSON response mode
type GeminiModel struct {
	client llms.Model
	model  string
}

func NewGeminiModel(ctx context.Context, apiKey, model string) (*GeminiModel, error) {
	client, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(model),
	)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: create client")
	}
	return &GeminiModel{client: client, model: model}, nil
}

func (g *GeminiModel) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	resp, err := llms.GenerateFromSinglePrompt(ctx, g.client, prompt,
		llms.WithJSONMode(),
		llms.WithTemperature(0),
	)
	if err != nil {
		return "", eris.Wrap(err, "gemini: generate")
	}
	return resp, nil
}

func (g *GeminiModel) Name() string {
	return "gemini/" + g.model
}
