package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider wraps the Messages API via the official
// anthropic-sdk-go client.
type AnthropicProvider struct {
	client anthropic.Client
	tok    Tokenizer
}

// NewAnthropicProvider constructs a Provider authenticated with apiKey.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		tok:    NewTiktokenTokenizer("claude-sonnet-4"),
	}
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) SupportsVision() bool  { return true }

func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var system string
	blocks := make([]anthropic.MessageParam, 0, len(req.Messages))

	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}

		content := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)}
		for _, att := range m.Attachments {
			content = append(content, anthropic.NewImageBlockBase64(att.MediaType, att.DataB64))
		}

		switch m.Role {
		case RoleUser:
			blocks = append(blocks, anthropic.NewUserMessage(content...))
		case RoleAssistant:
			blocks = append(blocks, anthropic.NewAssistantMessage(content...))
		}
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  blocks,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return ChatResponse{}, translateAnthropicError(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return ChatResponse{
		Text: text.String(),
		Usage: Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// translateAnthropicError flattens an SDK error into a plain message the
// retry classifier (session/retry) pattern-matches against, without the
// classifier ever importing the vendor SDK.
func translateAnthropicError(err error) error {
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate_limit"):
		return fmt.Errorf("anthropic: rate limit exceeded: %w", err)
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return fmt.Errorf("anthropic: request timeout: %w", err)
	case strings.Contains(lower, "401") || strings.Contains(lower, "403") || strings.Contains(lower, "authentication"):
		return fmt.Errorf("anthropic: forbidden: %w", err)
	default:
		return fmt.Errorf("anthropic: upstream error: %w", err)
	}
}
