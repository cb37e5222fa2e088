package core

import "fmt"

// Participant is one conversational role bound to a model, with a fixed
// position in the rotation. OrderIndex is 1-based; ties resolve by list
// position.
type Participant struct {
	ID           string  `json:"id"`
	Model        string  `json:"model"`
	OrderIndex   int     `json:"order_index"`
	SystemPrompt string  `json:"system_prompt"`
	UserPrompt   string  `json:"user_prompt"` // may contain {prior_output}
	DisplayName  string  `json:"display_name"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int64   `json:"max_tokens"`
}

// NewParticipant creates a participant bound to a model at the given rotation
// position. An empty display name defaults to "AI <order>".
func NewParticipant(model string, orderIndex int, systemPrompt, displayName string) Participant {
	if displayName == "" {
		displayName = fmt.Sprintf("AI %d", orderIndex)
	}
	return Participant{
		ID:           NewID(),
		Model:        model,
		OrderIndex:   orderIndex,
		SystemPrompt: systemPrompt,
		DisplayName:  displayName,
	}
}

// StopSequence is an evaluable termination rule. A non-empty SystemPrompt
// selects AI-judged mode; otherwise StopCondition is matched as a literal
// substring of the latest message.
type StopSequence struct {
	ID            string `json:"id"`
	Model         string `json:"model"` // judge model for AI-judged mode
	OrderIndex    int    `json:"order_index"`
	SystemPrompt  string `json:"system_prompt"`
	StopCondition string `json:"stop_condition"`
	DisplayName   string `json:"display_name"`
}

// IsJudged reports whether the rule is evaluated by a judge model rather than
// by literal substring match.
func (s StopSequence) IsJudged() bool { return s.SystemPrompt != "" }
