package prompt

import (
	"fmt"
	"strings"

	"github.com/hupe1980/loopmesh/core"
)

// RenderTranscript renders the entire message history with senders resolved
// to display names, one line per message. Pending placeholders are omitted.
// Used by the stop-condition evaluator to present the whole conversation to
// a judge model.
func RenderTranscript(loop *core.Loop) string {
	names := participantNames(loop)
	var sb strings.Builder
	for _, m := range loop.Messages {
		if m.IsPending() {
			continue
		}
		switch m.Sender {
		case core.SenderUser:
			fmt.Fprintf(&sb, "User: %s\n", m.Content)
		case core.SenderSystem:
			fmt.Fprintf(&sb, "System: %s\n", m.Content)
		default:
			fmt.Fprintf(&sb, "%s: %s\n", speakerName(names, m.Sender), m.Content)
		}
	}
	return sb.String()
}
