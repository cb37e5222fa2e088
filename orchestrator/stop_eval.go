package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/hupe1980/loopmesh/core"
	"github.com/hupe1980/loopmesh/logging"
	"github.com/hupe1980/loopmesh/model"
	"github.com/hupe1980/loopmesh/prompt"
)

// stopToken is the literal a judge must include for a rule to fire.
const stopToken = "STOP"

// defaultStopReason is reported when a judge fires without explaining itself.
const defaultStopReason = "Stop condition met."

var stopTokenPattern = regexp.MustCompile(`(?i)\bstop\b`)

// stopEvaluator decides whether a loop must terminate after a turn. Rules are
// evaluated in order; the first that fires wins. A judge failure is logged
// and treated as non-firing, never fatal to the loop.
type stopEvaluator struct {
	gateway model.Gateway
	logger  logging.Logger
}

// Evaluate runs the loop's stop sequences in evaluation order against the
// latest resolved message (literal mode) or the whole transcript (AI-judged
// mode).
func (e *stopEvaluator) Evaluate(ctx context.Context, loop *core.Loop) (bool, core.StopSequence, string) {
	last := loop.LastResolved()
	for _, seq := range loop.SortedStopSequences() {
		if !seq.IsJudged() {
			if seq.StopCondition != "" && last != nil && strings.Contains(last.Content, seq.StopCondition) {
				return true, seq, fmt.Sprintf("Matched %q.", seq.StopCondition)
			}
			continue
		}
		fired, reason, err := e.judge(ctx, loop, seq)
		if err != nil {
			e.logger.Warn("stop condition judge failed", "loop_id", loop.ID, "stop_sequence", seq.DisplayName, "error", err)
			continue
		}
		if fired {
			return true, seq, reason
		}
	}
	return false, core.StopSequence{}, ""
}

// judge sends the whole transcript with the rule's instructions and criterion
// to the judge model. A response containing the stop token (case-insensitive)
// fires; the reported reason is the response with the token stripped.
func (e *stopEvaluator) judge(ctx context.Context, loop *core.Loop, seq core.StopSequence) (bool, string, error) {
	transcript := prompt.RenderTranscript(loop)
	req := model.Request{
		Config: model.GenConfig{
			Model:        seq.Model,
			SystemPrompt: seq.SystemPrompt,
		},
		Messages: []model.ChatMessage{{
			Role: model.RoleUser,
			Content: fmt.Sprintf(
				"STOP CONDITION: %s\n\nCONVERSATION TRANSCRIPT:\n%s\nIf the stop condition is met, respond with the single word %s followed by a short reason. Otherwise respond with CONTINUE.",
				seq.StopCondition, transcript, stopToken,
			),
		}},
	}

	resp, err := e.gateway.Generate(ctx, req)
	if err != nil {
		return false, "", err
	}
	if !stopTokenPattern.MatchString(resp) {
		return false, "", nil
	}
	reason := strings.TrimSpace(stopTokenPattern.ReplaceAllString(resp, ""))
	reason = strings.TrimLeft(reason, ":,.- ")
	if reason == "" {
		reason = defaultStopReason
	}
	return true, reason, nil
}
