package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/loopmesh/core"
	"github.com/hupe1980/loopmesh/logging"
	"github.com/hupe1980/loopmesh/model"
	"github.com/hupe1980/loopmesh/prompt"
)

// ErrNoParticipants is returned when a loop without participants is started.
var ErrNoParticipants = fmt.Errorf("loop has no participants")

// Default tuning values. TurnInterval paces gateway calls within one loop;
// JoinTimeout bounds how long pause/stop wait for a worker to exit.
const (
	DefaultTurnInterval      = 2 * time.Second
	DefaultJoinTimeout       = 5 * time.Second
	DefaultGenerationTimeout = 2 * time.Minute
	DefaultPendingRetryDelay = time.Second
)

// Options configures a Manager.
type Options struct {
	// Logger used by the manager and its workers. Defaults to NoOpLogger.
	Logger logging.Logger
	// Assembler builds per-turn model contexts. Defaults to a fresh one.
	Assembler *prompt.Assembler
	// TurnInterval is the fixed pacing delay between turns of one loop.
	TurnInterval time.Duration
	// JoinTimeout bounds the wait for worker exit on pause/stop.
	JoinTimeout time.Duration
	// GenerationTimeout bounds a single gateway call. In-flight calls run to
	// completion under this timeout even when the loop is being paused.
	GenerationTimeout time.Duration
	// PendingRetryDelay is the idle period before re-checking an unresolved
	// placeholder left by another writer.
	PendingRetryDelay time.Duration
}

// workerHandle tracks one active worker: its cancellation signal and a
// channel closed when the worker goroutine has fully exited.
type workerHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager is the lifecycle control surface for loops. It owns the
// active-worker bookkeeping and guarantees at most one worker per loop id.
// All methods are safe for concurrent use.
type Manager struct {
	store     core.LoopStore
	registry  *model.Registry
	assembler *prompt.Assembler
	logger    logging.Logger

	turnInterval      time.Duration
	joinTimeout       time.Duration
	generationTimeout time.Duration
	pendingRetryDelay time.Duration

	mu      sync.Mutex
	workers map[string]*workerHandle
}

// NewManager creates a manager on top of a store and a model registry.
func NewManager(store core.LoopStore, registry *model.Registry, optFns ...func(o *Options)) *Manager {
	opts := Options{
		Logger:            logging.NoOpLogger{},
		Assembler:         prompt.NewAssembler(),
		TurnInterval:      DefaultTurnInterval,
		JoinTimeout:       DefaultJoinTimeout,
		GenerationTimeout: DefaultGenerationTimeout,
		PendingRetryDelay: DefaultPendingRetryDelay,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{
		store:             store,
		registry:          registry,
		assembler:         opts.Assembler,
		logger:            opts.Logger,
		turnInterval:      opts.TurnInterval,
		joinTimeout:       opts.JoinTimeout,
		generationTimeout: opts.GenerationTimeout,
		pendingRetryDelay: opts.PendingRetryDelay,
		workers:           make(map[string]*workerHandle),
	}
}

// CreateLoop creates and persists a new stopped loop.
func (m *Manager) CreateLoop(title string) (*core.Loop, error) {
	loop := core.NewLoop(title)
	if err := m.store.Save(loop); err != nil {
		return nil, err
	}
	return loop, nil
}

// GetLoop returns the loop with the given id.
func (m *Manager) GetLoop(id string) (*core.Loop, error) {
	return m.store.Get(id)
}

// ListLoops returns all loops, newest first.
func (m *Manager) ListLoops() ([]*core.Loop, error) {
	return m.store.List()
}

// mutate loads the loop, applies fn and re-persists on success.
func (m *Manager) mutate(id string, fn func(loop *core.Loop) error) (*core.Loop, error) {
	loop, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	if err := fn(loop); err != nil {
		return nil, err
	}
	if err := m.store.Save(loop); err != nil {
		return nil, err
	}
	return loop, nil
}

// UpdateTitle sets the loop title.
func (m *Manager) UpdateTitle(id, title string) (*core.Loop, error) {
	return m.mutate(id, func(loop *core.Loop) error {
		loop.Title = title
		return nil
	})
}

// UpdateLoopUserPrompt sets the template applied to the first participant on
// cycles after the first.
func (m *Manager) UpdateLoopUserPrompt(id, text string) (*core.Loop, error) {
	return m.mutate(id, func(loop *core.Loop) error {
		loop.LoopUserPrompt = text
		return nil
	})
}

// UpdateMaxTurns sets the turn limit; 0 means unlimited.
func (m *Manager) UpdateMaxTurns(id string, maxTurns int) (*core.Loop, error) {
	return m.mutate(id, func(loop *core.Loop) error {
		loop.MaxTurns = maxTurns
		return nil
	})
}

// AddParticipant appends a participant at the end of the rotation. Missing ID
// and display name are filled in; the order index is always assigned here.
func (m *Manager) AddParticipant(loopID string, p core.Participant) (*core.Loop, *core.Participant, error) {
	var added core.Participant
	loop, err := m.mutate(loopID, func(loop *core.Loop) error {
		next := 1
		for _, existing := range loop.Participants {
			if existing.OrderIndex >= next {
				next = existing.OrderIndex + 1
			}
		}
		p.OrderIndex = next
		if p.ID == "" {
			p.ID = core.NewID()
		}
		if p.DisplayName == "" {
			p.DisplayName = fmt.Sprintf("AI %d", next)
		}
		loop.AddParticipant(p)
		added = p
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return loop, &added, nil
}

// ParticipantUpdate carries optional participant field changes; nil fields
// are left untouched.
type ParticipantUpdate struct {
	Model        *string
	SystemPrompt *string
	UserPrompt   *string
	DisplayName  *string
	Temperature  *float64
	MaxTokens    *int64
}

// UpdateParticipant applies the non-nil fields of the update.
func (m *Manager) UpdateParticipant(loopID, participantID string, update ParticipantUpdate) (*core.Loop, error) {
	return m.mutate(loopID, func(loop *core.Loop) error {
		p := loop.GetParticipant(participantID)
		if p == nil {
			return fmt.Errorf("participant %s: %w", participantID, core.ErrNotFound)
		}
		if update.Model != nil {
			p.Model = *update.Model
		}
		if update.SystemPrompt != nil {
			p.SystemPrompt = *update.SystemPrompt
		}
		if update.UserPrompt != nil {
			p.UserPrompt = *update.UserPrompt
		}
		if update.DisplayName != nil {
			p.DisplayName = *update.DisplayName
		}
		if update.Temperature != nil {
			p.Temperature = *update.Temperature
		}
		if update.MaxTokens != nil {
			p.MaxTokens = *update.MaxTokens
		}
		return nil
	})
}

// RemoveParticipant deletes a participant from the rotation.
func (m *Manager) RemoveParticipant(loopID, participantID string) (*core.Loop, error) {
	return m.mutate(loopID, func(loop *core.Loop) error {
		if !loop.RemoveParticipant(participantID) {
			return fmt.Errorf("participant %s: %w", participantID, core.ErrNotFound)
		}
		return nil
	})
}

// ReorderParticipants assigns rotation positions by the order of ids.
func (m *Manager) ReorderParticipants(loopID string, ids []string) (*core.Loop, error) {
	return m.mutate(loopID, func(loop *core.Loop) error {
		loop.ReorderParticipants(ids)
		return nil
	})
}

// AddStopSequence appends a stop sequence at the end of the evaluation order.
func (m *Manager) AddStopSequence(loopID string, s core.StopSequence) (*core.Loop, *core.StopSequence, error) {
	var added core.StopSequence
	loop, err := m.mutate(loopID, func(loop *core.Loop) error {
		next := 1
		for _, existing := range loop.StopSequences {
			if existing.OrderIndex >= next {
				next = existing.OrderIndex + 1
			}
		}
		s.OrderIndex = next
		if s.ID == "" {
			s.ID = core.NewID()
		}
		if s.DisplayName == "" {
			s.DisplayName = fmt.Sprintf("Stop %d", next)
		}
		loop.AddStopSequence(s)
		added = s
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return loop, &added, nil
}

// StopSequenceUpdate carries optional stop sequence field changes; nil fields
// are left untouched.
type StopSequenceUpdate struct {
	Model         *string
	SystemPrompt  *string
	StopCondition *string
	DisplayName   *string
}

// UpdateStopSequence applies the non-nil fields of the update.
func (m *Manager) UpdateStopSequence(loopID, stopID string, update StopSequenceUpdate) (*core.Loop, error) {
	return m.mutate(loopID, func(loop *core.Loop) error {
		s := loop.GetStopSequence(stopID)
		if s == nil {
			return fmt.Errorf("stop sequence %s: %w", stopID, core.ErrNotFound)
		}
		if update.Model != nil {
			s.Model = *update.Model
		}
		if update.SystemPrompt != nil {
			s.SystemPrompt = *update.SystemPrompt
		}
		if update.StopCondition != nil {
			s.StopCondition = *update.StopCondition
		}
		if update.DisplayName != nil {
			s.DisplayName = *update.DisplayName
		}
		return nil
	})
}

// RemoveStopSequence deletes a stop sequence.
func (m *Manager) RemoveStopSequence(loopID, stopID string) (*core.Loop, error) {
	return m.mutate(loopID, func(loop *core.Loop) error {
		if !loop.RemoveStopSequence(stopID) {
			return fmt.Errorf("stop sequence %s: %w", stopID, core.ErrNotFound)
		}
		return nil
	})
}

// ReorderStopSequences assigns evaluation positions by the order of ids.
func (m *Manager) ReorderStopSequences(loopID string, ids []string) (*core.Loop, error) {
	return m.mutate(loopID, func(loop *core.Loop) error {
		loop.ReorderStopSequences(ids)
		return nil
	})
}

// Start begins a fresh conversation: history is cleared, the initial prompt
// is seeded as a user message and a worker is spawned. Starting an already
// running loop is a no-op returning the current state.
func (m *Manager) Start(id, initialPrompt string) (*core.Loop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	loop, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	if len(loop.Participants) == 0 {
		return nil, ErrNoParticipants
	}
	if _, active := m.workers[id]; active && loop.Status == core.StatusRunning {
		m.logger.Info("loop already running", "loop_id", id)
		return loop, nil
	}

	loop.ClearMessages()
	loop.AddMessage(core.NewMessage(initialPrompt, core.SenderUser))
	loop.Status = core.StatusRunning
	if err := m.store.Save(loop); err != nil {
		return nil, err
	}

	m.spawnLocked(id)
	m.logger.Info("loop started", "loop_id", id, "participants", len(loop.Participants))
	return loop, nil
}

// Resume restarts a paused loop with its history intact. Only effective when
// the loop is paused.
func (m *Manager) Resume(id string) (*core.Loop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	loop, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	if loop.Status != core.StatusPaused {
		return loop, nil
	}

	loop.Status = core.StatusRunning
	if err := m.store.Save(loop); err != nil {
		return nil, err
	}

	m.spawnLocked(id)
	m.logger.Info("loop resumed", "loop_id", id)
	return loop, nil
}

// Pause suspends a running loop, keeping its history. The call waits up to
// the join timeout for the worker to exit.
func (m *Manager) Pause(id string) (*core.Loop, error) {
	loop, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	if loop.Status != core.StatusRunning {
		return loop, nil
	}

	loop.Status = core.StatusPaused
	if err := m.store.Save(loop); err != nil {
		return nil, err
	}
	m.signalAndJoin(id)
	m.logger.Info("loop paused", "loop_id", id)
	return loop, nil
}

// Stop terminates a running or paused loop without clearing its messages.
func (m *Manager) Stop(id string) (*core.Loop, error) {
	loop, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	if loop.Status != core.StatusRunning && loop.Status != core.StatusPaused {
		return loop, nil
	}

	loop.Status = core.StatusStopped
	if err := m.store.Save(loop); err != nil {
		return nil, err
	}
	m.signalAndJoin(id)
	m.logger.Info("loop stopped", "loop_id", id)
	return loop, nil
}

// Reset stops the loop if active, then clears messages and the turn counter.
// Participants, stop sequences and prompt templates are preserved.
func (m *Manager) Reset(id string) (*core.Loop, error) {
	loop, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	if loop.Status == core.StatusRunning || loop.Status == core.StatusPaused {
		if _, err := m.Stop(id); err != nil {
			return nil, err
		}
	}
	return m.mutate(id, func(loop *core.Loop) error {
		loop.ClearMessages()
		loop.Status = core.StatusStopped
		return nil
	})
}

// DeleteLoop stops the loop if active and removes it from the store.
func (m *Manager) DeleteLoop(id string) error {
	if _, err := m.Stop(id); err != nil {
		return err
	}
	ok, err := m.store.Delete(id)
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrNotFound
	}
	return nil
}

// spawnLocked registers and launches a worker for the loop. Caller holds mu.
func (m *Manager) spawnLocked(loopID string) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &workerHandle{cancel: cancel, done: make(chan struct{})}
	m.workers[loopID] = h

	w := &worker{
		loopID:            loopID,
		store:             m.store,
		registry:          m.registry,
		assembler:         m.assembler,
		evaluator:         &stopEvaluator{gateway: m.registry, logger: m.logger},
		logger:            m.logger,
		turnInterval:      m.turnInterval,
		generationTimeout: m.generationTimeout,
		pendingRetryDelay: m.pendingRetryDelay,
	}
	go func() {
		defer m.release(loopID, h)
		w.run(ctx)
	}()
}

// release clears the active-worker bookkeeping for h and signals joiners.
// Runs even when the worker fails unexpectedly.
func (m *Manager) release(loopID string, h *workerHandle) {
	m.mu.Lock()
	if current, ok := m.workers[loopID]; ok && current == h {
		delete(m.workers, loopID)
	}
	m.mu.Unlock()
	h.cancel()
	close(h.done)
}

// signalAndJoin raises the cancellation signal for the loop's worker, if any,
// and waits up to the join timeout for it to exit.
func (m *Manager) signalAndJoin(id string) {
	m.mu.Lock()
	h := m.workers[id]
	m.mu.Unlock()
	if h == nil {
		return
	}
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(m.joinTimeout):
		m.logger.Warn("worker did not exit within join timeout", "loop_id", id)
	}
}

// activeWorkers reports how many workers are currently registered. Test hook.
func (m *Manager) activeWorkers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}
