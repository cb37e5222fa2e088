// Package googleai provides a gateway for the Gemini API via the official
// Google GenAI SDK.
package googleai

import (
	"context"
	"fmt"
	"strings"

	genai "google.golang.org/genai"

	"github.com/hupe1980/loopmesh/model"
)

// Options configures the Google GenAI gateway.
type Options struct {
	APIKey string
}

// Gateway adapts the Gemini GenerateContent API to the generic model.Gateway
// interface. It holds no mutable per-call state.
type Gateway struct {
	client *genai.Client
}

// New creates a gateway backed by the official GenAI client.
func New(ctx context.Context, optFns ...func(o *Options)) (*Gateway, error) {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create google genai client: %w", err)
	}
	return &Gateway{client: client}, nil
}

// NewFromClient creates a gateway from an existing client.
func NewFromClient(client *genai.Client) *Gateway {
	return &Gateway{client: client}
}

// Generate implements model.Gateway.
func (g *Gateway) Generate(ctx context.Context, req model.Request) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	if req.Config.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.Config.SystemPrompt, genai.RoleUser)
	}
	if req.Config.Temperature > 0 {
		temp := float32(req.Config.Temperature)
		cfg.Temperature = &temp
	}
	if req.Config.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.Config.MaxTokens)
	}

	resp, err := g.client.Models.GenerateContent(ctx, req.Config.Model, buildContents(req), cfg)
	if err != nil {
		return "", fmt.Errorf("google genai api error: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// buildContents converts the normalized context to GenAI contents. A
// flattened transcript becomes a single user content.
func buildContents(req model.Request) []*genai.Content {
	if req.Flattened() {
		return []*genai.Content{genai.NewContentFromText(req.Transcript, genai.RoleUser)}
	}
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == model.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return contents
}
