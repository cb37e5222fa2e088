// Package loopmesh provides a high-level façade for running AI loops:
// conversations in which a rotation of model participants talk to each other
// until a turn limit or a stop condition ends the exchange. Most applications
// interact with this package by:
//  1. Creating a LoopMesh via New() (optionally overriding the default
//     in-memory store, model registry or logger)
//  2. Creating a loop and configuring its participants and stop sequences
//  3. Starting the loop and observing its messages through the store
//
// The façade delegates lifecycle control to orchestrator.Manager while keeping
// setup ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply a file-backed store, real
// provider gateways and a structured logger.
package loopmesh

import (
	"fmt"
	"time"

	"github.com/hupe1980/loopmesh/config"
	"github.com/hupe1980/loopmesh/core"
	"github.com/hupe1980/loopmesh/logging"
	"github.com/hupe1980/loopmesh/model"
	"github.com/hupe1980/loopmesh/orchestrator"
	"github.com/hupe1980/loopmesh/store"
)

// Options configures the LoopMesh instance.
type Options struct {
	// Store persists loops. Defaults to an in-memory implementation.
	Store core.LoopStore

	// Registry resolves model ids to provider gateways. Defaults to the
	// built-in model table with no gateways attached; register provider
	// gateways before starting loops.
	Registry *model.Registry

	// TurnInterval is the pacing delay between consecutive turns of a loop.
	TurnInterval time.Duration

	// GenerationTimeout bounds a single model call.
	GenerationTimeout time.Duration

	// JoinTimeout bounds how long Pause and Stop wait for a worker to exit.
	JoinTimeout time.Duration

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// LoopMesh is the high-level façade aggregating the store, the model registry
// and the turn orchestrator.
type LoopMesh struct {
	opts    Options
	manager *orchestrator.Manager
}

// New creates a new LoopMesh instance with optional overrides. Any unset
// service is initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *LoopMesh {
	opts := Options{
		Store:             store.NewInMemoryStore(),
		Registry:          model.DefaultRegistry(),
		TurnInterval:      orchestrator.DefaultTurnInterval,
		GenerationTimeout: orchestrator.DefaultGenerationTimeout,
		JoinTimeout:       orchestrator.DefaultJoinTimeout,
		Logger:            logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	manager := orchestrator.NewManager(opts.Store, opts.Registry, func(o *orchestrator.Options) {
		o.Logger = opts.Logger
		o.TurnInterval = opts.TurnInterval
		o.GenerationTimeout = opts.GenerationTimeout
		o.JoinTimeout = opts.JoinTimeout
	})

	return &LoopMesh{opts: opts, manager: manager}
}

// NewFromConfig builds a LoopMesh from a loaded configuration: storage
// backend, worker timings, extra model registrations and logger settings.
func NewFromConfig(cfg *config.Config) (*LoopMesh, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var loopStore core.LoopStore
	switch cfg.Storage.Backend {
	case "file":
		fs, err := store.NewFileStore(cfg.Storage.Dir)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		loopStore = fs
	default:
		loopStore = store.NewInMemoryStore()
	}

	registry := model.DefaultRegistry()
	cfg.ApplyModels(registry)

	logger := logging.NewLogger(&logging.Config{
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
	})

	return New(func(o *Options) {
		o.Store = loopStore
		o.Registry = registry
		o.Logger = logger
		if d := cfg.Worker.TurnInterval.Std(); d > 0 {
			o.TurnInterval = d
		}
		if d := cfg.Worker.GenerationTimeout.Std(); d > 0 {
			o.GenerationTimeout = d
		}
		if d := cfg.Worker.JoinTimeout.Std(); d > 0 {
			o.JoinTimeout = d
		}
	}), nil
}

// Manager exposes the underlying orchestrator for full lifecycle control.
func (lm *LoopMesh) Manager() *orchestrator.Manager { return lm.manager }

// Registry exposes the model registry for gateway registration.
func (lm *LoopMesh) Registry() *model.Registry { return lm.opts.Registry }

// CreateLoop creates and persists a new stopped loop.
func (lm *LoopMesh) CreateLoop(title string) (*core.Loop, error) {
	return lm.manager.CreateLoop(title)
}

// GetLoop returns the loop with the given id.
func (lm *LoopMesh) GetLoop(id string) (*core.Loop, error) {
	return lm.manager.GetLoop(id)
}

// ListLoops returns all loops, newest first.
func (lm *LoopMesh) ListLoops() ([]*core.Loop, error) {
	return lm.manager.ListLoops()
}

// Start seeds the loop with the user's opening message and begins turn
// processing.
func (lm *LoopMesh) Start(id, initialPrompt string) (*core.Loop, error) {
	return lm.manager.Start(id, initialPrompt)
}

// Pause suspends turn processing; Resume picks it up again.
func (lm *LoopMesh) Pause(id string) (*core.Loop, error) {
	return lm.manager.Pause(id)
}

// Resume restarts turn processing of a paused loop.
func (lm *LoopMesh) Resume(id string) (*core.Loop, error) {
	return lm.manager.Resume(id)
}

// Stop terminates turn processing.
func (lm *LoopMesh) Stop(id string) (*core.Loop, error) {
	return lm.manager.Stop(id)
}

// Reset stops the loop and clears its conversation while preserving its
// configuration.
func (lm *LoopMesh) Reset(id string) (*core.Loop, error) {
	return lm.manager.Reset(id)
}

// DeleteLoop stops the loop and removes it from the store.
func (lm *LoopMesh) DeleteLoop(id string) error {
	return lm.manager.DeleteLoop(id)
}
