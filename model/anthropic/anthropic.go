// Package anthropic provides a gateway for the Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/loopmesh/model"
)

const defaultMaxTokens = 4096

// Options configures the Anthropic gateway.
type Options struct {
	APIKey string
}

// Gateway adapts the Anthropic Messages API to the generic model.Gateway
// interface. It holds no mutable per-call state.
type Gateway struct {
	client *anthropic.Client
}

// New creates a gateway backed by the official client. Without an explicit
// API key the SDK falls back to the ANTHROPIC_API_KEY environment variable.
func New(optFns ...func(o *Options)) *Gateway {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Gateway{client: &client}
}

// NewFromClient creates a gateway from an existing client.
func NewFromClient(client *anthropic.Client) *Gateway {
	return &Gateway{client: client}
}

// Generate implements model.Gateway.
func (g *Gateway) Generate(ctx context.Context, req model.Request) (string, error) {
	maxTokens := req.Config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Config.Model),
		Messages:  buildMessages(req),
		MaxTokens: maxTokens,
	}
	if req.Config.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Config.Temperature)
	}
	if req.Config.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Config.SystemPrompt}}
	}

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// buildMessages converts the normalized context to Anthropic message params.
// A flattened transcript becomes a single user message.
func buildMessages(req model.Request) []anthropic.MessageParam {
	if req.Flattened() {
		return []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Transcript)),
		}
	}
	var messages []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return messages
}
