package core

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a loop.
type Status string

const (
	// StatusStopped means no worker is active and the loop is idle.
	StatusStopped Status = "stopped"
	// StatusPaused means the worker has exited but the conversation can be
	// resumed without losing history.
	StatusPaused Status = "paused"
	// StatusRunning means a turn scheduler worker is driving the loop.
	StatusRunning Status = "running"
)

// Loop is one orchestrated multi-participant conversation. It is owned
// exclusively by a LoopStore; the lifecycle manager and the turn scheduler
// hold transient copies fetched fresh per operation.
//
// Contract:
//   - Participants and StopSequences are totally ordered by OrderIndex,
//     independent of slice order
//   - Messages slice order is chronological order
//   - CurrentTurn counts participant turns since the loop was (re)started;
//     the seed user message and system notices do not count
//   - Clone performs deep copies for safe divergence
type Loop struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Participants   []Participant  `json:"participants"`
	StopSequences  []StopSequence `json:"stop_sequences"`
	Messages       []Message      `json:"messages"`
	Status         Status         `json:"status"`
	MaxTurns       int            `json:"max_turns"` // 0 means unlimited
	CurrentTurn    int            `json:"current_turn"`
	LoopUserPrompt string         `json:"loop_user_prompt"`
	Created        time.Time      `json:"created_at"`
	Updated        time.Time      `json:"updated_at"`
}

// NewLoop creates an empty stopped loop. An empty title defaults to "New Loop".
func NewLoop(title string) *Loop {
	if title == "" {
		title = "New Loop"
	}
	now := time.Now().UTC()
	return &Loop{
		ID:      NewID(),
		Title:   title,
		Status:  StatusStopped,
		Created: now,
		Updated: now,
	}
}

// NewID generates a unique identifier for loops, participants and messages.
func NewID() string { return uuid.NewString() }

func (l *Loop) touch() { l.Updated = time.Now().UTC() }

// AddParticipant appends a participant to the loop.
func (l *Loop) AddParticipant(p Participant) {
	l.Participants = append(l.Participants, p)
	l.touch()
}

// GetParticipant returns the participant with the given ID, or nil.
func (l *Loop) GetParticipant(id string) *Participant {
	for i := range l.Participants {
		if l.Participants[i].ID == id {
			return &l.Participants[i]
		}
	}
	return nil
}

// RemoveParticipant deletes the participant with the given ID. It reports
// whether a participant was removed.
func (l *Loop) RemoveParticipant(id string) bool {
	for i := range l.Participants {
		if l.Participants[i].ID == id {
			l.Participants = append(l.Participants[:i], l.Participants[i+1:]...)
			l.touch()
			return true
		}
	}
	return false
}

// ReorderParticipants assigns new 1-based order indices by position in ids and
// re-sorts the participant list. IDs not present in the loop are ignored.
func (l *Loop) ReorderParticipants(ids []string) {
	byID := make(map[string]*Participant, len(l.Participants))
	for i := range l.Participants {
		byID[l.Participants[i].ID] = &l.Participants[i]
	}
	for pos, id := range ids {
		if p, ok := byID[id]; ok {
			p.OrderIndex = pos + 1
		}
	}
	sort.SliceStable(l.Participants, func(i, j int) bool {
		return l.Participants[i].OrderIndex < l.Participants[j].OrderIndex
	})
	l.touch()
}

// SortedParticipants returns the participants in rotation order.
func (l *Loop) SortedParticipants() []Participant {
	sorted := make([]Participant, len(l.Participants))
	copy(sorted, l.Participants)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OrderIndex < sorted[j].OrderIndex
	})
	return sorted
}

// NextParticipant returns the participant that takes the turn after the given
// sender. A "user", "system" or unrecognized sender yields the first
// participant in rotation order; otherwise rotation wraps to the lowest index
// after the highest. Returns nil when the loop has no participants.
func (l *Loop) NextParticipant(sender string) *Participant {
	sorted := l.SortedParticipants()
	if len(sorted) == 0 {
		return nil
	}
	current := -1
	for i, p := range sorted {
		if p.ID == sender {
			current = i
			break
		}
	}
	if current == -1 {
		return &sorted[0]
	}
	return &sorted[(current+1)%len(sorted)]
}

// FirstParticipant returns the participant with the lowest order index, or nil.
func (l *Loop) FirstParticipant() *Participant {
	sorted := l.SortedParticipants()
	if len(sorted) == 0 {
		return nil
	}
	return &sorted[0]
}

// AddStopSequence appends a stop sequence to the loop.
func (l *Loop) AddStopSequence(s StopSequence) {
	l.StopSequences = append(l.StopSequences, s)
	l.touch()
}

// GetStopSequence returns the stop sequence with the given ID, or nil.
func (l *Loop) GetStopSequence(id string) *StopSequence {
	for i := range l.StopSequences {
		if l.StopSequences[i].ID == id {
			return &l.StopSequences[i]
		}
	}
	return nil
}

// RemoveStopSequence deletes the stop sequence with the given ID. It reports
// whether a stop sequence was removed.
func (l *Loop) RemoveStopSequence(id string) bool {
	for i := range l.StopSequences {
		if l.StopSequences[i].ID == id {
			l.StopSequences = append(l.StopSequences[:i], l.StopSequences[i+1:]...)
			l.touch()
			return true
		}
	}
	return false
}

// ReorderStopSequences assigns new 1-based order indices by position in ids
// and re-sorts the stop sequence list.
func (l *Loop) ReorderStopSequences(ids []string) {
	byID := make(map[string]*StopSequence, len(l.StopSequences))
	for i := range l.StopSequences {
		byID[l.StopSequences[i].ID] = &l.StopSequences[i]
	}
	for pos, id := range ids {
		if s, ok := byID[id]; ok {
			s.OrderIndex = pos + 1
		}
	}
	sort.SliceStable(l.StopSequences, func(i, j int) bool {
		return l.StopSequences[i].OrderIndex < l.StopSequences[j].OrderIndex
	})
	l.touch()
}

// SortedStopSequences returns the stop sequences in evaluation order.
func (l *Loop) SortedStopSequences() []StopSequence {
	sorted := make([]StopSequence, len(l.StopSequences))
	copy(sorted, l.StopSequences)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OrderIndex < sorted[j].OrderIndex
	})
	return sorted
}

// AddMessage appends a message to the conversation. Participant-sent messages
// advance CurrentTurn; user and system messages do not.
func (l *Loop) AddMessage(m Message) *Message {
	l.Messages = append(l.Messages, m)
	if m.Sender != SenderUser && m.Sender != SenderSystem {
		l.CurrentTurn++
	}
	l.touch()
	return &l.Messages[len(l.Messages)-1]
}

// GetMessage returns the message with the given ID, or nil.
func (l *Loop) GetMessage(id string) *Message {
	for i := range l.Messages {
		if l.Messages[i].ID == id {
			return &l.Messages[i]
		}
	}
	return nil
}

// LastMessage returns the most recent message, or nil if none exist.
func (l *Loop) LastMessage() *Message {
	if len(l.Messages) == 0 {
		return nil
	}
	return &l.Messages[len(l.Messages)-1]
}

// LastResolved returns the most recent non-pending message, or nil.
func (l *Loop) LastResolved() *Message {
	for i := len(l.Messages) - 1; i >= 0; i-- {
		if !l.Messages[i].IsPending() {
			return &l.Messages[i]
		}
	}
	return nil
}

// ResolveMessage updates the placeholder with the given ID in place, setting
// its final content and status. It reports whether the message was found.
func (l *Loop) ResolveMessage(id, content string, status MessageStatus) bool {
	m := l.GetMessage(id)
	if m == nil {
		return false
	}
	m.Content = content
	m.Status = status
	l.touch()
	return true
}

// ClearMessages drops the conversation history and resets the turn counter.
// Participants, stop sequences and prompt templates are preserved.
func (l *Loop) ClearMessages() {
	l.Messages = nil
	l.CurrentTurn = 0
	l.touch()
}

// Clone returns a deep copy of the loop safe for independent mutation.
func (l *Loop) Clone() *Loop {
	clone := *l
	clone.Participants = make([]Participant, len(l.Participants))
	copy(clone.Participants, l.Participants)
	clone.StopSequences = make([]StopSequence, len(l.StopSequences))
	copy(clone.StopSequences, l.StopSequences)
	clone.Messages = make([]Message, len(l.Messages))
	copy(clone.Messages, l.Messages)
	return &clone
}
