// Package openai provides a gateway for the OpenAI Chat Completions API.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/loopmesh/model"
)

const defaultMaxCompletionTokens = 4096

// Options configures the OpenAI gateway.
type Options struct {
	APIKey string
}

// Gateway adapts the OpenAI Chat Completions API to the generic
// model.Gateway interface. It holds no mutable per-call state.
type Gateway struct {
	client *openai.Client
}

// New creates a gateway backed by the official client. Without an explicit
// API key the SDK falls back to the OPENAI_API_KEY environment variable.
func New(optFns ...func(o *Options)) *Gateway {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := openai.NewClient(clientOpts...)
	return &Gateway{client: &client}
}

// NewFromClient creates a gateway from an existing client.
func NewFromClient(client *openai.Client) *Gateway {
	return &Gateway{client: client}
}

// Generate implements model.Gateway.
func (g *Gateway) Generate(ctx context.Context, req model.Request) (string, error) {
	maxTokens := req.Config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxCompletionTokens
	}
	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(req.Config.Model),
		Messages:            buildMessages(req),
		MaxCompletionTokens: openai.Int(maxTokens),
	}
	if req.Config.Temperature > 0 {
		params.Temperature = openai.Float(req.Config.Temperature)
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// buildMessages converts the normalized context to OpenAI chat messages. The
// system prompt is prepended as a system message; a flattened transcript
// (used for models that reject system roles) becomes a single user message.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	if req.Flattened() {
		return []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Transcript),
		}
	}
	var messages []openai.ChatCompletionMessageParamUnion
	if req.Config.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.Config.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	return messages
}
