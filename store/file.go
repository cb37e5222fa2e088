package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/loopmesh/core"
)

// FileStore persists each loop as an indented JSON document named
// "<id>.json" under a directory. A single process-wide mutex serializes
// access per store, which is sufficient because only one worker is ever
// active per loop id.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates the storage directory if needed and returns a store
// rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create loop storage dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes the loop as JSON, replacing any previous snapshot.
func (s *FileStore) Save(loop *core.Loop) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.MarshalIndent(loop, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal loop %s: %w", loop.ID, err)
	}
	tmp := s.path(loop.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write loop %s: %w", loop.ID, err)
	}
	if err := os.Rename(tmp, s.path(loop.ID)); err != nil {
		return fmt.Errorf("persist loop %s: %w", loop.ID, err)
	}
	return nil
}

// Get reads and decodes the loop or returns core.ErrNotFound.
func (s *FileStore) Get(id string) (*core.Loop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(id)
}

func (s *FileStore) readLocked(id string) (*core.Loop, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read loop %s: %w", id, err)
	}
	var loop core.Loop
	if err := json.Unmarshal(data, &loop); err != nil {
		return nil, fmt.Errorf("decode loop %s: %w", id, err)
	}
	return &loop, nil
}

// List returns all stored loops sorted by Updated, newest first. Files that
// fail to decode are skipped.
func (s *FileStore) List() ([]*core.Loop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list loop storage dir: %w", err)
	}
	var loops []*core.Loop
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		loop, err := s.readLocked(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		loops = append(loops, loop)
	}
	sort.Slice(loops, func(i, j int) bool {
		return loops[i].Updated.After(loops[j].Updated)
	})
	return loops, nil
}

// Delete removes the loop file, reporting whether it existed.
func (s *FileStore) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete loop %s: %w", id, err)
	}
	return true, nil
}
