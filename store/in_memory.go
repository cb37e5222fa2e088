// Package store provides LoopStore implementations: a volatile in-memory
// store for tests and demos, and a JSON file store for durable single-node
// deployments. Both hand out deep copies so the stored aggregate is never
// shared in memory between the lifecycle manager and a worker.
package store

import (
	"sort"
	"sync"

	"github.com/hupe1980/loopmesh/core"
)

// InMemoryStore keeps loops in a process-local map. It is safe for concurrent
// access; every read and write moves through a clone.
type InMemoryStore struct {
	mu    sync.RWMutex
	loops map[string]*core.Loop
}

// NewInMemoryStore constructs an empty in-memory loop store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{loops: make(map[string]*core.Loop)}
}

// Save stores a clone of the provided loop snapshot.
func (s *InMemoryStore) Save(loop *core.Loop) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loops[loop.ID] = loop.Clone()
	return nil
}

// Get returns a clone of the loop or core.ErrNotFound.
func (s *InMemoryStore) Get(id string) (*core.Loop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loop, ok := s.loops[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return loop.Clone(), nil
}

// List returns clones of all loops sorted by Updated, newest first.
func (s *InMemoryStore) List() ([]*core.Loop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loops := make([]*core.Loop, 0, len(s.loops))
	for _, loop := range s.loops {
		loops = append(loops, loop.Clone())
	}
	sort.Slice(loops, func(i, j int) bool {
		return loops[i].Updated.After(loops[j].Updated)
	})
	return loops, nil
}

// Delete removes the loop, reporting whether it existed.
func (s *InMemoryStore) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loops[id]
	delete(s.loops, id)
	return ok, nil
}
