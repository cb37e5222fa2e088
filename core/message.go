package core

import "time"

// Reserved sender identifiers. Any other sender value is a Participant ID.
const (
	SenderUser   = "user"
	SenderSystem = "system"
)

// PendingContent is the display text written into a message while its turn is
// still in flight. Detection of in-flight turns keys off MessageStatus, never
// off this literal.
const PendingContent = "Thinking..."

// MessageStatus tracks the resolution state of a message.
type MessageStatus string

const (
	// MessagePending marks a placeholder appended before the model call
	// resolves. Pending messages are externally visible but excluded from
	// prompt context.
	MessagePending MessageStatus = "pending"
	// MessageComplete marks a finalized message.
	MessageComplete MessageStatus = "complete"
	// MessageError marks a placeholder that was resolved with an error
	// instead of generated content.
	MessageError MessageStatus = "error"
)

// Message is one turn's output in a loop conversation. Messages are immutable
// once complete; the single permitted in-place update is resolving a pending
// placeholder to complete or error.
type Message struct {
	ID        string        `json:"id"`
	Content   string        `json:"content"`
	Sender    string        `json:"sender"` // participant ID, "user" or "system"
	Status    MessageStatus `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewMessage creates a complete message.
func NewMessage(content, sender string) Message {
	return Message{
		ID:        NewID(),
		Content:   content,
		Sender:    sender,
		Status:    MessageComplete,
		Timestamp: time.Now().UTC(),
	}
}

// NewPendingMessage creates a placeholder message for an in-flight turn.
func NewPendingMessage(sender string) Message {
	m := NewMessage(PendingContent, sender)
	m.Status = MessagePending
	return m
}

// IsPending reports whether the message is an unresolved placeholder.
func (m Message) IsPending() bool { return m.Status == MessagePending }
