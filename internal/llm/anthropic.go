package llm

import (
	"context"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/cogloop/core/internal/cogerr"
)

// AnthropicProvider adapts the Anthropic Messages API to Provider.
// Grounded on intelligencedev-manifold's internal/llm/anthropic client,
// trimmed to this pipeline's needs: no tool-calling or prompt-cache
// configuration, since the ACT loop's tool dispatch goes through MCP
// (internal/act/tools), not native Anthropic tool_use blocks.
type AnthropicProvider struct {
	sdk          anthropic.Client
	defaultModel string
}

func NewAnthropicProvider(apiKey, defaultModel string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(apiKey))}
	if defaultModel == "" {
		defaultModel = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &AnthropicProvider{sdk: anthropic.NewClient(opts...), defaultModel: defaultModel}
}

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := p.sdk.Messages.New(ctx, params)
	if err != nil {
		return Response{}, cogerr.Transientf("llm.AnthropicProvider.Complete", "messages.new: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return Response{
		Text:         text.String(),
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}, nil
}
