package llm

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

const jsonOnlySystem = "You are a JSON API. Reply with a single JSON object and nothing else: " +
	"no prose, no markdown code fences."

// AnthropicModel calls the Messages API. There is no JSON response mode, so the
// system prompt pins the output format and the caller validates it.
type AnthropicModel struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

func NewAnthropicModel(apiKey, model string, maxTokens int64) *AnthropicModel {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicModel{
		client:    sdk.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (a *AnthropicModel) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	msg, err := a.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:       sdk.Model(a.model),
		MaxTokens:   a.maxTokens,
		System:      []sdk.TextBlockParam{{Text: jsonOnlySystem}},
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
		Temperature: sdk.Float(0),
	})
	if err != nil {
		return "", eris.Wrap(err, "anthropic: create message")
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

func (a *AnthropicModel) Name() string {
	return "anthropic/" + a.model
}
