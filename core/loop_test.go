package core

import "testing"

func TestLoop_NextParticipantRotation(t *testing.T) {
	l := NewLoop("rotation")
	a := NewParticipant("claude-3-5-haiku-latest", 1, "", "Alice")
	b := NewParticipant("gpt-4o", 2, "", "Bob")
	c := NewParticipant("gemini-2.0-flash", 3, "", "Carol")
	l.AddParticipant(b) // insertion order must not matter
	l.AddParticipant(c)
	l.AddParticipant(a)

	next := l.NextParticipant(SenderUser)
	if next == nil || next.ID != a.ID {
		t.Fatalf("expected first participant after user, got %+v", next)
	}
	if got := l.NextParticipant(a.ID); got.ID != b.ID {
		t.Errorf("expected b after a, got %s", got.DisplayName)
	}
	if got := l.NextParticipant(c.ID); got.ID != a.ID {
		t.Errorf("expected wrap to a after c, got %s", got.DisplayName)
	}
	if got := l.NextParticipant("unknown-sender"); got.ID != a.ID {
		t.Errorf("unrecognized sender should restart rotation, got %s", got.DisplayName)
	}
}

func TestLoop_NextParticipantEmpty(t *testing.T) {
	l := NewLoop("")
	if l.NextParticipant(SenderUser) != nil {
		t.Error("expected nil next participant for empty loop")
	}
	if l.FirstParticipant() != nil {
		t.Error("expected nil first participant for empty loop")
	}
}

func TestLoop_ReorderParticipants(t *testing.T) {
	l := NewLoop("reorder")
	a := NewParticipant("m", 1, "", "A")
	b := NewParticipant("m", 2, "", "B")
	c := NewParticipant("m", 3, "", "C")
	l.AddParticipant(a)
	l.AddParticipant(b)
	l.AddParticipant(c)

	l.ReorderParticipants([]string{c.ID, a.ID, b.ID})

	sorted := l.SortedParticipants()
	want := []string{c.ID, a.ID, b.ID}
	for i, id := range want {
		if sorted[i].ID != id {
			t.Fatalf("position %d: expected %s got %s", i, id, sorted[i].ID)
		}
		if sorted[i].OrderIndex != i+1 {
			t.Fatalf("position %d: expected order index %d got %d", i, i+1, sorted[i].OrderIndex)
		}
	}
}

func TestLoop_AddMessageTurnCounting(t *testing.T) {
	l := NewLoop("turns")
	p := NewParticipant("m", 1, "", "A")
	l.AddParticipant(p)

	l.AddMessage(NewMessage("hi", SenderUser))
	if l.CurrentTurn != 0 {
		t.Fatalf("user message must not count as a turn, got %d", l.CurrentTurn)
	}
	l.AddMessage(NewPendingMessage(p.ID))
	if l.CurrentTurn != 1 {
		t.Fatalf("participant message should count as a turn, got %d", l.CurrentTurn)
	}
	l.AddMessage(NewMessage("stopped by rule", SenderSystem))
	if l.CurrentTurn != 1 {
		t.Fatalf("system message must not count as a turn, got %d", l.CurrentTurn)
	}
}

func TestLoop_ResolveMessage(t *testing.T) {
	l := NewLoop("resolve")
	p := NewParticipant("m", 1, "", "A")
	l.AddParticipant(p)
	placeholder := l.AddMessage(NewPendingMessage(p.ID))

	if last := l.LastMessage(); last == nil || !last.IsPending() {
		t.Fatal("expected pending last message")
	}
	if l.LastResolved() != nil {
		t.Fatal("pending placeholder must not be treated as resolved")
	}

	if !l.ResolveMessage(placeholder.ID, "answer", MessageComplete) {
		t.Fatal("expected to resolve placeholder")
	}
	if got := l.LastResolved(); got == nil || got.Content != "answer" {
		t.Fatalf("expected resolved content, got %+v", got)
	}
	if l.ResolveMessage("missing", "x", MessageError) {
		t.Error("resolving unknown message should report false")
	}
}

func TestLoop_ClearMessagesPreservesConfig(t *testing.T) {
	l := NewLoop("reset")
	p := NewParticipant("m", 1, "persona", "A")
	l.AddParticipant(p)
	l.AddStopSequence(StopSequence{ID: NewID(), OrderIndex: 1, StopCondition: "DONE"})
	l.LoopUserPrompt = "Continue: {prior_output}"
	l.AddMessage(NewMessage("hi", SenderUser))
	l.AddMessage(NewMessage("hello", p.ID))

	l.ClearMessages()

	if len(l.Messages) != 0 || l.CurrentTurn != 0 {
		t.Fatal("expected empty history and zero turn counter")
	}
	if len(l.Participants) != 1 || len(l.StopSequences) != 1 || l.LoopUserPrompt == "" {
		t.Fatal("reset must preserve participants, stop sequences and prompt template")
	}
}

func TestLoop_Clone(t *testing.T) {
	l := NewLoop("clone")
	p := NewParticipant("m", 1, "", "A")
	l.AddParticipant(p)
	l.AddMessage(NewMessage("hi", SenderUser))

	clone := l.Clone()
	if clone == l {
		t.Fatal("clone should be a different pointer")
	}
	clone.AddMessage(NewMessage("more", p.ID))
	clone.Participants[0].DisplayName = "changed"

	if len(l.Messages) != 1 {
		t.Error("original messages mutated through clone")
	}
	if l.Participants[0].DisplayName != "A" {
		t.Error("original participants mutated through clone")
	}
}

func TestStopSequence_IsJudged(t *testing.T) {
	literal := StopSequence{StopCondition: "DONE"}
	if literal.IsJudged() {
		t.Error("rule without judge instructions must be literal")
	}
	judged := StopSequence{SystemPrompt: "You are a strict judge.", StopCondition: "consensus reached"}
	if !judged.IsJudged() {
		t.Error("rule with judge instructions must be AI-judged")
	}
}
