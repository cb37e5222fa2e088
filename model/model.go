// Package model defines the gateway abstraction that turns an assembled
// conversation context into generated text, independent of which backend
// serves it. Provider subpackages (anthropic, openai, googleai) implement
// Gateway; Registry dispatches a request to the provider family bound to its
// model id. Gateways are stateless per call, so a single instance serves any
// number of concurrent loops.
package model

import (
	"context"
	"fmt"
)

// ErrEmptyResult is returned when a backend produced a blank completion.
var ErrEmptyResult = fmt.Errorf("model returned empty result")

// Role tags one entry of a role-tagged conversation context.
type Role string

const (
	// RoleUser marks input authored from the model's counterpart perspective.
	RoleUser Role = "user"
	// RoleAssistant marks output previously authored by the model itself.
	RoleAssistant Role = "assistant"
)

// ChatMessage is one entry of a role-tagged conversation context.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// GenConfig carries the per-call generation parameters of a participant or
// judge. Zero Temperature and MaxTokens fall back to provider defaults.
type GenConfig struct {
	Model        string  `json:"model"`
	SystemPrompt string  `json:"system_prompt"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int64   `json:"max_tokens"`
}

// Request is the normalized gateway input. Exactly one of Messages or
// Transcript is populated: Messages for backends with system-role support,
// Transcript for backends that only accept a flattened plain-text prompt.
type Request struct {
	Config     GenConfig     `json:"config"`
	Messages   []ChatMessage `json:"messages,omitempty"`
	Transcript string        `json:"transcript,omitempty"`
}

// Flattened reports whether the request carries a flattened transcript
// instead of a role-tagged message list.
func (r Request) Flattened() bool { return r.Transcript != "" }

// Gateway generates text from a conversation context. Implementations must be
// safe for concurrent use and must not retain mutable per-call state.
type Gateway interface {
	Generate(ctx context.Context, req Request) (string, error)
}
