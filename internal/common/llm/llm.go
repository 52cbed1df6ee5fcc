package llm

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/project-tktt/offer-collector/internal/config"
)

// Model is a structured-output text model. GenerateJSON sends one prompt and
// returns the raw response text, which the caller validates.
type Model interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)

	// Name returns provider/model for logging
	Name() string
}

// New builds the model selected by cfg.Provider
func New(ctx context.Context, cfg config.LLMConfig) (Model, error) {
	if cfg.APIKey == "" {
		return nil, eris.New("llm: api key is not set (COLLECTOR_LLM_API_KEY or GENAI_API_KEY)")
	}

	switch cfg.Provider {
	case "gemini", "":
		model := cfg.Model
		if model == "" {
			model = config.DefaultGeminiModel
		}
		g, err := NewGeminiModel(ctx, cfg.APIKey, model)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "anthropic":
		model := cfg.Model
		if model == "" {
			model = config.DefaultAnthropicModel
		}
		return NewAnthropicModel(cfg.APIKey, model, cfg.MaxTokens), nil
	default:
		return nil, eris.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
