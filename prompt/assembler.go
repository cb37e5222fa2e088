// Package prompt builds the exact model context for one participant's turn:
// identity framing, perspective-shifted history replay, prior-output template
// substitution, and a flattened transcript fallback for models without
// system-role support.
package prompt

import (
	"fmt"
	"strings"

	"github.com/hupe1980/loopmesh/core"
	"github.com/hupe1980/loopmesh/model"
)

// PriorOutputPlaceholder is substituted with the previous message's content
// when it occurs in a user prompt template.
const PriorOutputPlaceholder = "{prior_output}"

// DefaultMaxContext bounds the replayed history to the most recent N messages
// to keep payloads within token limits.
const DefaultMaxContext = 20

// Assembler builds model requests for participant turns.
type Assembler struct {
	maxContext int
}

// Option customizes an Assembler.
type Option func(*Assembler)

// WithMaxContext overrides the replayed history bound.
func WithMaxContext(n int) Option {
	return func(a *Assembler) { a.maxContext = n }
}

// NewAssembler constructs an assembler with the default context bound.
func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{maxContext: DefaultMaxContext}
	for _, o := range opts {
		o(a)
	}
	return a
}

// BuildTurn assembles the request for the acting participant's next turn.
// The capability decides between a role-tagged message list and a flattened
// transcript.
func (a *Assembler) BuildTurn(loop *core.Loop, acting core.Participant, cap model.Capability) model.Request {
	names := participantNames(loop)
	system := identityFramedSystemPrompt(loop, acting)
	replay, prior := a.replayContext(loop, acting, names)
	input := turnInput(loop, acting, prior)

	cfg := model.GenConfig{
		Model:       acting.Model,
		Temperature: acting.Temperature,
		MaxTokens:   acting.MaxTokens,
	}

	if !cap.SupportsSystem {
		return model.Request{
			Config:     cfg,
			Transcript: a.flattenTranscript(loop, acting, names, system, input),
		}
	}

	cfg.SystemPrompt = system
	messages := append(replay, model.ChatMessage{Role: model.RoleUser, Content: input})
	return model.Request{Config: cfg, Messages: messages}
}

// turnInput computes the participant's turn input. The very first turn after
// the user seed passes the initial prompt through unmodified. Later turns run
// template substitution: the first participant in rotation uses the loop-wide
// template, everyone else their own. A template without the placeholder gets
// the prior output appended after a blank line.
func turnInput(loop *core.Loop, acting core.Participant, prior *core.Message) string {
	if prior == nil {
		return ""
	}
	if prior.Sender == core.SenderUser {
		return prior.Content
	}
	tmpl := acting.UserPrompt
	if first := loop.FirstParticipant(); first != nil && first.ID == acting.ID {
		tmpl = loop.LoopUserPrompt
	}
	if tmpl == "" {
		return prior.Content
	}
	if strings.Contains(tmpl, PriorOutputPlaceholder) {
		return strings.ReplaceAll(tmpl, PriorOutputPlaceholder, prior.Content)
	}
	return tmpl + "\n\n" + prior.Content
}

// replayContext selects the bounded history window, shifts perspectives onto
// the acting participant, and returns it without its final entry, which is
// replaced by the templated turn input. The returned prior is the message the
// final entry was derived from.
func (a *Assembler) replayContext(loop *core.Loop, acting core.Participant, names map[string]string) ([]model.ChatMessage, *core.Message) {
	var relevant []core.Message
	for _, m := range loop.Messages {
		if m.IsPending() || m.Sender == core.SenderSystem {
			continue
		}
		relevant = append(relevant, m)
	}
	if len(relevant) > a.maxContext {
		relevant = relevant[len(relevant)-a.maxContext:]
	}
	if len(relevant) == 0 {
		return nil, nil
	}

	prior := relevant[len(relevant)-1]
	var replay []model.ChatMessage
	for _, m := range relevant[:len(relevant)-1] {
		switch {
		case m.Sender == core.SenderUser:
			replay = append(replay, model.ChatMessage{Role: model.RoleUser, Content: m.Content})
		case m.Sender == acting.ID:
			replay = append(replay, model.ChatMessage{Role: model.RoleAssistant, Content: m.Content})
		default:
			replay = append(replay, model.ChatMessage{
				Role:    model.RoleUser,
				Content: fmt.Sprintf("%s: %s", speakerName(names, m.Sender), m.Content),
			})
		}
	}
	return replay, &prior
}

// identityFramedSystemPrompt appends the participant roster after the acting
// participant's own system prompt, never replacing it.
func identityFramedSystemPrompt(loop *core.Loop, acting core.Participant) string {
	var sb strings.Builder
	if acting.SystemPrompt != "" {
		sb.WriteString(acting.SystemPrompt)
		sb.WriteString("\n\n")
	}
	sb.WriteString("CONVERSATION PARTICIPANTS:\n")
	fmt.Fprintf(&sb, "- You are %s\n", acting.DisplayName)
	for _, p := range loop.SortedParticipants() {
		if p.ID != acting.ID {
			fmt.Fprintf(&sb, "- %s\n", p.DisplayName)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// flattenTranscript renders an equivalent plain-text prompt for models that
// reject system-role messages, ending in an explicit continuation cue. The
// replay window mirrors replayContext: bounded, no pending or system
// messages, final entry replaced by the templated turn input.
func (a *Assembler) flattenTranscript(loop *core.Loop, acting core.Participant, names map[string]string, system, input string) string {
	var relevant []core.Message
	for _, m := range loop.Messages {
		if m.IsPending() || m.Sender == core.SenderSystem {
			continue
		}
		relevant = append(relevant, m)
	}
	if len(relevant) > a.maxContext {
		relevant = relevant[len(relevant)-a.maxContext:]
	}
	if len(relevant) > 0 {
		relevant = relevant[:len(relevant)-1]
	}

	var sb strings.Builder
	sb.WriteString(system)
	sb.WriteString("\n\nCONVERSATION HISTORY:\n")
	for _, m := range relevant {
		switch {
		case m.Sender == core.SenderUser:
			fmt.Fprintf(&sb, "User: %s\n", m.Content)
		case m.Sender == acting.ID:
			fmt.Fprintf(&sb, "You (%s): %s\n", acting.DisplayName, m.Content)
		default:
			fmt.Fprintf(&sb, "%s: %s\n", speakerName(names, m.Sender), m.Content)
		}
	}
	fmt.Fprintf(&sb, "User: %s\n", input)
	fmt.Fprintf(&sb, "\nYour response as %s: ", acting.DisplayName)
	return sb.String()
}

func participantNames(loop *core.Loop) map[string]string {
	names := make(map[string]string, len(loop.Participants))
	for _, p := range loop.Participants {
		names[p.ID] = p.DisplayName
	}
	return names
}

func speakerName(names map[string]string, sender string) string {
	if name, ok := names[sender]; ok {
		return name
	}
	return "Unknown AI"
}

// ScrubEcho strips a leading "<display name>:" echo some models prepend to
// their own turn.
func ScrubEcho(displayName, text string) string {
	prefix := displayName + ":"
	if strings.HasPrefix(text, prefix) {
		return strings.TrimSpace(strings.TrimPrefix(text, prefix))
	}
	return text
}
