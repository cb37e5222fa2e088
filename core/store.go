package core

import "fmt"

// ErrNotFound is returned when the loop for the given id does not exist in
// the underlying store.
var ErrNotFound = fmt.Errorf("loop not found")

// LoopStore persists loop aggregates. Implementations must serialize access
// per loop id; last writer wins. Returned loops are independent copies so
// callers may mutate them freely before saving.
type LoopStore interface {
	// Save persists a snapshot of the loop.
	Save(loop *Loop) error

	// Get returns the loop with the given id or ErrNotFound.
	Get(id string) (*Loop, error)

	// List returns all loops sorted by Updated, newest first.
	List() ([]*Loop, error)

	// Delete removes the loop with the given id, reporting whether it existed.
	Delete(id string) (bool, error)
}
