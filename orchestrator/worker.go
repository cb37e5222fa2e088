package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/loopmesh/core"
	"github.com/hupe1980/loopmesh/logging"
	"github.com/hupe1980/loopmesh/model"
	"github.com/hupe1980/loopmesh/prompt"
)

// worker drives one loop's turn-by-turn progression until cancelled,
// exhausted, failed or stopped by a rule. It holds no loop state across
// iterations: every iteration re-reads the aggregate from the store.
type worker struct {
	loopID            string
	store             core.LoopStore
	registry          *model.Registry
	assembler         *prompt.Assembler
	evaluator         *stopEvaluator
	logger            logging.Logger
	turnInterval      time.Duration
	generationTimeout time.Duration
	pendingRetryDelay time.Duration
}

// run executes turn iterations until an exit condition is met. Cancellation
// is cooperative: it is observed at the top of each iteration and during the
// inter-turn delay, never mid-generation. The catch-all recover guarantees
// the goroutine never escapes with a panic; active-worker bookkeeping is
// released by the manager's deferred cleanup.
func (w *worker) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker recovered from panic", "loop_id", w.loopID, "panic", r)
		}
	}()

	// replenishes one turn per interval; the first turn fires immediately
	limiter := rate.NewLimiter(rate.Every(w.turnInterval), 1)

	for {
		if ctx.Err() != nil {
			return
		}
		loop, err := w.store.Get(w.loopID)
		if err != nil {
			w.logger.Warn("worker lost its loop", "loop_id", w.loopID, "error", err)
			return
		}
		if loop.Status != core.StatusRunning {
			w.logger.Info("loop no longer running", "loop_id", w.loopID, "status", string(loop.Status))
			return
		}
		if loop.MaxTurns > 0 && loop.CurrentTurn >= loop.MaxTurns {
			w.logger.Info("loop reached max turns", "loop_id", w.loopID, "max_turns", loop.MaxTurns)
			loop.Status = core.StatusStopped
			w.save(loop)
			return
		}

		last := loop.LastMessage()
		if last == nil {
			w.logger.Warn("loop has no messages to process", "loop_id", w.loopID)
			return
		}
		if last.IsPending() {
			// another writer has not resolved its turn yet
			if !w.sleep(ctx, w.pendingRetryDelay) {
				return
			}
			continue
		}

		next := loop.NextParticipant(last.Sender)
		if next == nil {
			w.logger.Warn("no next participant", "loop_id", w.loopID, "after", last.Sender)
			return
		}

		// the placeholder makes the in-flight turn externally observable
		placeholder := loop.AddMessage(core.NewPendingMessage(next.ID))
		placeholderID := placeholder.ID
		if !w.save(loop) {
			return
		}

		result, err := w.generate(loop, *next)
		switch {
		case err != nil:
			w.logger.Error("turn generation failed", "loop_id", w.loopID, "participant", next.DisplayName, "error", err)
			w.failTurn(placeholderID, fmt.Sprintf("Error: %s", err))
			return
		case strings.TrimSpace(result) == "":
			w.logger.Error("turn generation returned empty result", "loop_id", w.loopID, "participant", next.DisplayName)
			w.failTurn(placeholderID, fmt.Sprintf("Error: %s", model.ErrEmptyResult))
			return
		}

		stopped, ok := w.resolveTurn(placeholderID, *next, result)
		if !ok || stopped {
			return
		}

		// inter-turn pacing; the only other suspension point besides the
		// gateway call
		if err := limiter.Wait(ctx); err != nil {
			return
		}
	}
}

// generate builds the turn context and invokes the gateway. The call gets its
// own timeout detached from the worker's cancellation signal, so a pending
// pause takes effect only after the in-flight call completes.
func (w *worker) generate(loop *core.Loop, p core.Participant) (string, error) {
	cap, err := w.registry.Capability(p.Model)
	if err != nil {
		return "", err
	}
	req := w.assembler.BuildTurn(loop, p, cap)

	ctx, cancel := context.WithTimeout(context.Background(), w.generationTimeout)
	defer cancel()
	result, err := w.registry.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	return prompt.ScrubEcho(p.DisplayName, result), nil
}

// resolveTurn writes the generated content into the placeholder and runs the
// stop-condition evaluation. It returns (stopped, ok): stopped means a rule
// fired and the loop was terminated; ok=false means the turn could not be
// recorded and the worker must exit.
func (w *worker) resolveTurn(placeholderID string, p core.Participant, result string) (bool, bool) {
	loop, err := w.store.Get(w.loopID)
	if err != nil {
		w.logger.Warn("worker lost its loop", "loop_id", w.loopID, "error", err)
		return false, false
	}
	if !loop.ResolveMessage(placeholderID, result, core.MessageComplete) {
		// history was cleared underneath us, nothing left to record
		w.logger.Warn("placeholder vanished before resolution", "loop_id", w.loopID, "message_id", placeholderID)
		return false, false
	}
	if !w.save(loop) {
		return false, false
	}

	if len(loop.StopSequences) == 0 {
		return false, true
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.generationTimeout)
	defer cancel()
	fired, seq, reason := w.evaluator.Evaluate(ctx, loop)
	if !fired {
		return false, true
	}

	w.logger.Info("stop condition fired", "loop_id", w.loopID, "stop_sequence", seq.DisplayName, "reason", reason)
	loop.AddMessage(core.NewMessage(fmt.Sprintf("Loop stopped by %s: %s", seq.DisplayName, reason), core.SenderSystem))
	loop.Status = core.StatusStopped
	w.save(loop)
	return true, true
}

// failTurn overwrites the placeholder with an error message and pauses the
// loop so the operator can resume without losing history.
func (w *worker) failTurn(placeholderID, errMsg string) {
	loop, err := w.store.Get(w.loopID)
	if err != nil {
		w.logger.Warn("worker lost its loop", "loop_id", w.loopID, "error", err)
		return
	}
	if !loop.ResolveMessage(placeholderID, errMsg, core.MessageError) {
		w.logger.Warn("placeholder vanished before error resolution", "loop_id", w.loopID, "message_id", placeholderID)
	}
	loop.Status = core.StatusPaused
	w.save(loop)
}

// save persists the loop, reporting success. Persistence failures end the
// worker; the manager's bookkeeping cleanup still runs.
func (w *worker) save(loop *core.Loop) bool {
	if err := w.store.Save(loop); err != nil {
		w.logger.Error("failed to persist loop", "loop_id", w.loopID, "error", err)
		return false
	}
	return true
}

// sleep waits for d unless cancelled first, reporting whether the full delay
// elapsed.
func (w *worker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
