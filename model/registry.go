package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Provider family names used by the registry.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// Capability describes how a model id must be driven: which provider family
// serves it and whether it accepts system-role messages. Models without
// system support receive a flattened transcript from the prompt assembler.
type Capability struct {
	Provider       string `json:"provider"`
	SupportsSystem bool   `json:"supports_system"`
}

// Registry maps model ids to capabilities and provider families to gateways.
// It implements Gateway itself, dispatching each request by its model id, so
// the orchestrator holds exactly one generation dependency.
type Registry struct {
	mu       sync.RWMutex
	models   map[string]Capability
	gateways map[string]Gateway
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		models:   make(map[string]Capability),
		gateways: make(map[string]Gateway),
	}
}

// DefaultRegistry returns a registry preloaded with the builtin model table.
// Provider gateways still have to be registered before generation works.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for id, cap := range builtinModels {
		r.RegisterModel(id, cap)
	}
	return r
}

// builtinModels mirrors the supported model catalogue. The o-series reasoning
// models reject system-role messages.
var builtinModels = map[string]Capability{
	"gpt-4":                    {Provider: ProviderOpenAI, SupportsSystem: true},
	"gpt-4o":                   {Provider: ProviderOpenAI, SupportsSystem: true},
	"gpt-4o-mini":              {Provider: ProviderOpenAI, SupportsSystem: true},
	"o3-mini":                  {Provider: ProviderOpenAI, SupportsSystem: false},
	"claude-3-7-sonnet-latest": {Provider: ProviderAnthropic, SupportsSystem: true},
	"claude-3-5-haiku-latest":  {Provider: ProviderAnthropic, SupportsSystem: true},
	"gemini-2.0-flash":         {Provider: ProviderGoogle, SupportsSystem: true},
	"gemini-1.5-pro":           {Provider: ProviderGoogle, SupportsSystem: true},
}

// RegisterModel binds a model id to a capability, replacing any previous entry.
func (r *Registry) RegisterModel(id string, cap Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[id] = cap
}

// RegisterProvider binds a provider family to a gateway implementation.
func (r *Registry) RegisterProvider(provider string, gw Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[provider] = gw
}

// Capability resolves the capability for a model id. Unknown ids fall back to
// a prefix heuristic over the known families so newly released model versions
// keep working without a registry update.
func (r *Registry) Capability(modelID string) (Capability, error) {
	r.mu.RLock()
	cap, ok := r.models[modelID]
	r.mu.RUnlock()
	if ok {
		return cap, nil
	}
	switch {
	case strings.HasPrefix(modelID, "gpt"):
		return Capability{Provider: ProviderOpenAI, SupportsSystem: true}, nil
	case strings.HasPrefix(modelID, "o1") || strings.HasPrefix(modelID, "o3"):
		return Capability{Provider: ProviderOpenAI, SupportsSystem: false}, nil
	case strings.HasPrefix(modelID, "claude"):
		return Capability{Provider: ProviderAnthropic, SupportsSystem: true}, nil
	case strings.HasPrefix(modelID, "gemini"):
		return Capability{Provider: ProviderGoogle, SupportsSystem: true}, nil
	}
	return Capability{}, fmt.Errorf("unknown model %q", modelID)
}

// Generate implements Gateway by dispatching to the provider family bound to
// the request's model id.
func (r *Registry) Generate(ctx context.Context, req Request) (string, error) {
	cap, err := r.Capability(req.Config.Model)
	if err != nil {
		return "", err
	}
	r.mu.RLock()
	gw, ok := r.gateways[cap.Provider]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("no gateway registered for provider %q", cap.Provider)
	}
	return gw.Generate(ctx, req)
}
