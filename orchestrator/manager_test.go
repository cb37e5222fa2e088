package orchestrator

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/loopmesh/core"
	"github.com/hupe1980/loopmesh/model"
	"github.com/hupe1980/loopmesh/store"
)

// newTestManager wires a manager to an in-memory store and a mock gateway
// registered for every provider family, with fast timings.
func newTestManager(t *testing.T) (*Manager, *model.Mock, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	mock := model.NewMock()
	registry := model.DefaultRegistry()
	for _, provider := range []string{model.ProviderOpenAI, model.ProviderAnthropic, model.ProviderGoogle} {
		registry.RegisterProvider(provider, mock)
	}
	m := NewManager(st, registry, func(o *Options) {
		o.TurnInterval = 5 * time.Millisecond
		o.JoinTimeout = time.Second
		o.PendingRetryDelay = 5 * time.Millisecond
	})
	return m, mock, st
}

func addParticipants(t *testing.T, m *Manager, loopID string, names ...string) []core.Participant {
	t.Helper()
	var participants []core.Participant
	for _, name := range names {
		_, p, err := m.AddParticipant(loopID, core.Participant{Model: "gpt-4o", DisplayName: name})
		require.NoError(t, err)
		participants = append(participants, *p)
	}
	return participants
}

func waitStatus(t *testing.T, m *Manager, id string, want core.Status) *core.Loop {
	t.Helper()
	var loop *core.Loop
	require.Eventually(t, func() bool {
		l, err := m.GetLoop(id)
		if err != nil {
			return false
		}
		loop = l
		return l.Status == want
	}, 5*time.Second, 10*time.Millisecond, "loop never reached status %s", want)
	return loop
}

func TestManager_CreateLoop(t *testing.T) {
	m, _, _ := newTestManager(t)
	loop, err := m.CreateLoop("my loop")
	require.NoError(t, err)
	assert.Equal(t, "my loop", loop.Title)
	assert.Equal(t, core.StatusStopped, loop.Status)

	got, err := m.GetLoop(loop.ID)
	require.NoError(t, err)
	assert.Equal(t, loop.ID, got.ID)

	_, err = m.GetLoop("missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestManager_ParticipantCRUD(t *testing.T) {
	m, _, _ := newTestManager(t)
	loop, err := m.CreateLoop("crud")
	require.NoError(t, err)

	ps := addParticipants(t, m, loop.ID, "Alice", "Bob")
	assert.Equal(t, 1, ps[0].OrderIndex)
	assert.Equal(t, 2, ps[1].OrderIndex)

	name := "Alicia"
	temp := 0.9
	updated, err := m.UpdateParticipant(loop.ID, ps[0].ID, ParticipantUpdate{DisplayName: &name, Temperature: &temp})
	require.NoError(t, err)
	p := updated.GetParticipant(ps[0].ID)
	assert.Equal(t, "Alicia", p.DisplayName)
	assert.Equal(t, 0.9, p.Temperature)
	assert.Equal(t, "gpt-4o", p.Model) // untouched fields preserved

	_, err = m.UpdateParticipant(loop.ID, "ghost", ParticipantUpdate{DisplayName: &name})
	assert.ErrorIs(t, err, core.ErrNotFound)

	reordered, err := m.ReorderParticipants(loop.ID, []string{ps[1].ID, ps[0].ID})
	require.NoError(t, err)
	assert.Equal(t, ps[1].ID, reordered.SortedParticipants()[0].ID)

	removed, err := m.RemoveParticipant(loop.ID, ps[0].ID)
	require.NoError(t, err)
	assert.Len(t, removed.Participants, 1)

	_, err = m.RemoveParticipant(loop.ID, ps[0].ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestManager_StopSequenceCRUD(t *testing.T) {
	m, _, _ := newTestManager(t)
	loop, err := m.CreateLoop("stops")
	require.NoError(t, err)

	_, first, err := m.AddStopSequence(loop.ID, core.StopSequence{StopCondition: "DONE"})
	require.NoError(t, err)
	_, second, err := m.AddStopSequence(loop.ID, core.StopSequence{
		Model:         "gpt-4o",
		SystemPrompt:  "You are a strict judge.",
		StopCondition: "consensus reached",
		DisplayName:   "Consensus judge",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first.OrderIndex)
	assert.Equal(t, 2, second.OrderIndex)

	cond := "FINISHED"
	updated, err := m.UpdateStopSequence(loop.ID, first.ID, StopSequenceUpdate{StopCondition: &cond})
	require.NoError(t, err)
	assert.Equal(t, "FINISHED", updated.GetStopSequence(first.ID).StopCondition)

	reordered, err := m.ReorderStopSequences(loop.ID, []string{second.ID, first.ID})
	require.NoError(t, err)
	assert.Equal(t, second.ID, reordered.SortedStopSequences()[0].ID)

	removed, err := m.RemoveStopSequence(loop.ID, second.ID)
	require.NoError(t, err)
	assert.Len(t, removed.StopSequences, 1)

	_, err = m.RemoveStopSequence(loop.ID, second.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestManager_StartRequiresParticipants(t *testing.T) {
	m, _, _ := newTestManager(t)
	loop, err := m.CreateLoop("empty")
	require.NoError(t, err)

	_, err = m.Start(loop.ID, "hi")
	assert.ErrorIs(t, err, ErrNoParticipants)

	_, err = m.Start("missing", "hi")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestManager_RotationOrder(t *testing.T) {
	m, mock, _ := newTestManager(t)
	loop, err := m.CreateLoop("rotation")
	require.NoError(t, err)
	ps := addParticipants(t, m, loop.ID, "A", "B")
	_, err = m.UpdateMaxTurns(loop.ID, 3)
	require.NoError(t, err)
	mock.Enqueue("first", "second", "third")

	started, err := m.Start(loop.ID, "hi")
	require.NoError(t, err)
	assert.Equal(t, core.StatusRunning, started.Status)

	final := waitStatus(t, m, loop.ID, core.StatusStopped)
	require.Len(t, final.Messages, 4)
	assert.Equal(t, core.SenderUser, final.Messages[0].Sender)
	assert.Equal(t, "hi", final.Messages[0].Content)
	assert.Equal(t, ps[0].ID, final.Messages[1].Sender)
	assert.Equal(t, "first", final.Messages[1].Content)
	assert.Equal(t, ps[1].ID, final.Messages[2].Sender)
	assert.Equal(t, ps[0].ID, final.Messages[3].Sender) // wraps around
	assert.Equal(t, 3, final.CurrentTurn)
}

func TestManager_MaxTurnsHaltsWorker(t *testing.T) {
	m, _, _ := newTestManager(t)
	loop, err := m.CreateLoop("bounded")
	require.NoError(t, err)
	addParticipants(t, m, loop.ID, "A", "B", "C")
	_, err = m.UpdateMaxTurns(loop.ID, 2)
	require.NoError(t, err)

	_, err = m.Start(loop.ID, "go")
	require.NoError(t, err)

	final := waitStatus(t, m, loop.ID, core.StatusStopped)
	// exactly 2 appended messages beyond the initial user message
	assert.Len(t, final.Messages, 3)
	assert.Equal(t, 2, final.CurrentTurn)
	assert.Equal(t, 0, m.activeWorkers())
}

func TestManager_IdempotentStart(t *testing.T) {
	m, _, _ := newTestManager(t)
	loop, err := m.CreateLoop("dup")
	require.NoError(t, err)
	addParticipants(t, m, loop.ID, "A")

	_, err = m.Start(loop.ID, "hi")
	require.NoError(t, err)
	again, err := m.Start(loop.ID, "hi")
	require.NoError(t, err)
	assert.Equal(t, core.StatusRunning, again.Status)
	assert.Equal(t, 1, m.activeWorkers())

	_, err = m.Stop(loop.ID)
	require.NoError(t, err)
}

func TestManager_PauseAndResume(t *testing.T) {
	m, _, _ := newTestManager(t)
	loop, err := m.CreateLoop("pausable")
	require.NoError(t, err)
	addParticipants(t, m, loop.ID, "A", "B")

	_, err = m.Start(loop.ID, "hi")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		l, err := m.GetLoop(loop.ID)
		return err == nil && l.CurrentTurn >= 1
	}, 5*time.Second, 5*time.Millisecond)

	paused, err := m.Pause(loop.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPaused, paused.Status)
	assert.Equal(t, 0, m.activeWorkers())

	// pause followed immediately by get never shows running
	got, err := m.GetLoop(loop.ID)
	require.NoError(t, err)
	assert.NotEqual(t, core.StatusRunning, got.Status)

	turnsAtPause := got.CurrentTurn
	resumed, err := m.Resume(loop.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusRunning, resumed.Status)

	require.Eventually(t, func() bool {
		l, err := m.GetLoop(loop.ID)
		return err == nil && l.CurrentTurn > turnsAtPause
	}, 5*time.Second, 5*time.Millisecond, "resumed loop should keep making progress")

	_, err = m.Stop(loop.ID)
	require.NoError(t, err)
	waitStatus(t, m, loop.ID, core.StatusStopped)
	assert.Equal(t, 0, m.activeWorkers())
}

func TestManager_PauseWhenNotRunningIsNoOp(t *testing.T) {
	m, _, _ := newTestManager(t)
	loop, err := m.CreateLoop("idle")
	require.NoError(t, err)

	got, err := m.Pause(loop.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusStopped, got.Status)

	got, err = m.Resume(loop.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusStopped, got.Status)
}

func TestManager_EmptyResultPausesLoop(t *testing.T) {
	m, mock, _ := newTestManager(t)
	loop, err := m.CreateLoop("empty-result")
	require.NoError(t, err)
	addParticipants(t, m, loop.ID, "A")
	mock.Enqueue("   ")

	_, err = m.Start(loop.ID, "hi")
	require.NoError(t, err)

	final := waitStatus(t, m, loop.ID, core.StatusPaused)
	last := final.LastMessage()
	require.NotNil(t, last)
	assert.Equal(t, core.MessageError, last.Status)
	assert.Contains(t, last.Content, "empty result")
}

func TestManager_GatewayErrorPausesLoop(t *testing.T) {
	m, mock, _ := newTestManager(t)
	loop, err := m.CreateLoop("failing")
	require.NoError(t, err)
	addParticipants(t, m, loop.ID, "A")
	mock.Fail(errors.New("rate limited"))

	_, err = m.Start(loop.ID, "hi")
	require.NoError(t, err)

	final := waitStatus(t, m, loop.ID, core.StatusPaused)
	last := final.LastMessage()
	require.NotNil(t, last)
	assert.Equal(t, core.MessageError, last.Status)
	assert.Contains(t, last.Content, "rate limited")
	assert.Equal(t, 0, m.activeWorkers())

	// recoverable: clear the fault and resume without losing history
	mock.Fail(nil)
	_, err = m.UpdateMaxTurns(loop.ID, final.CurrentTurn+1)
	require.NoError(t, err)
	_, err = m.Resume(loop.ID)
	require.NoError(t, err)
	waitStatus(t, m, loop.ID, core.StatusStopped)
}

func TestManager_ResetPreservesConfiguration(t *testing.T) {
	m, _, _ := newTestManager(t)
	loop, err := m.CreateLoop("resettable")
	require.NoError(t, err)
	addParticipants(t, m, loop.ID, "A", "B")
	_, err = m.UpdateLoopUserPrompt(loop.ID, "Respond to: {prior_output}")
	require.NoError(t, err)
	_, _, err = m.AddStopSequence(loop.ID, core.StopSequence{StopCondition: "DONE"})
	require.NoError(t, err)
	_, err = m.UpdateMaxTurns(loop.ID, 2)
	require.NoError(t, err)

	_, err = m.Start(loop.ID, "hi")
	require.NoError(t, err)
	waitStatus(t, m, loop.ID, core.StatusStopped)

	reset, err := m.Reset(loop.ID)
	require.NoError(t, err)
	assert.Empty(t, reset.Messages)
	assert.Equal(t, 0, reset.CurrentTurn)
	assert.Equal(t, core.StatusStopped, reset.Status)
	assert.Len(t, reset.Participants, 2)
	assert.Len(t, reset.StopSequences, 1)
	assert.Equal(t, "Respond to: {prior_output}", reset.LoopUserPrompt)
}

func TestManager_ResetWhileRunning(t *testing.T) {
	m, _, _ := newTestManager(t)
	loop, err := m.CreateLoop("reset-running")
	require.NoError(t, err)
	addParticipants(t, m, loop.ID, "A")

	_, err = m.Start(loop.ID, "hi")
	require.NoError(t, err)

	reset, err := m.Reset(loop.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusStopped, reset.Status)
	assert.Empty(t, reset.Messages)
	assert.Equal(t, 0, m.activeWorkers())
}

func TestManager_DeleteLoop(t *testing.T) {
	m, _, _ := newTestManager(t)
	loop, err := m.CreateLoop("deletable")
	require.NoError(t, err)
	addParticipants(t, m, loop.ID, "A")
	_, err = m.Start(loop.ID, "hi")
	require.NoError(t, err)

	require.NoError(t, m.DeleteLoop(loop.ID))
	_, err = m.GetLoop(loop.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, 0, m.activeWorkers())

	assert.ErrorIs(t, m.DeleteLoop(loop.ID), core.ErrNotFound)
}

func TestManager_LiteralStopSequenceStopsLoop(t *testing.T) {
	m, mock, _ := newTestManager(t)
	loop, err := m.CreateLoop("stops-on-done")
	require.NoError(t, err)
	ps := addParticipants(t, m, loop.ID, "A", "B")
	_, _, err = m.AddStopSequence(loop.ID, core.StopSequence{StopCondition: "DONE", DisplayName: "Done marker"})
	require.NoError(t, err)
	mock.Enqueue("keep going", "that is DONE now")

	_, err = m.Start(loop.ID, "hi")
	require.NoError(t, err)

	final := waitStatus(t, m, loop.ID, core.StatusStopped)
	require.Len(t, final.Messages, 4)
	assert.Equal(t, ps[1].ID, final.Messages[2].Sender)
	last := final.Messages[3]
	assert.Equal(t, core.SenderSystem, last.Sender)
	assert.Contains(t, last.Content, "Done marker")
}

func TestManager_WorkerWaitsOutForeignPlaceholder(t *testing.T) {
	m, _, st := newTestManager(t)
	loop, err := m.CreateLoop("foreign-pending")
	require.NoError(t, err)
	ps := addParticipants(t, m, loop.ID, "A")
	_, err = m.UpdateMaxTurns(loop.ID, 2)
	require.NoError(t, err)

	// simulate a half-finished turn left by another writer
	seeded, err := st.Get(loop.ID)
	require.NoError(t, err)
	seeded.AddMessage(core.NewMessage("hi", core.SenderUser))
	pending := seeded.AddMessage(core.NewPendingMessage(ps[0].ID))
	pendingID := pending.ID
	seeded.Status = core.StatusPaused
	require.NoError(t, st.Save(seeded))

	_, err = m.Resume(loop.ID)
	require.NoError(t, err)

	// worker must idle rather than double-book the turn
	time.Sleep(50 * time.Millisecond)
	inFlight, err := m.GetLoop(loop.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, inFlight.CurrentTurn)

	// resolving the placeholder unblocks the rotation
	unblocked, err := st.Get(loop.ID)
	require.NoError(t, err)
	require.True(t, unblocked.ResolveMessage(pendingID, "resolved elsewhere", core.MessageComplete))
	require.NoError(t, st.Save(unblocked))

	final := waitStatus(t, m, loop.ID, core.StatusStopped)
	assert.Equal(t, 2, final.CurrentTurn)
}
