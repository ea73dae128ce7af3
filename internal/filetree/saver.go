package filetree

import (
	"context"
	"log"
	"sync"
	"time"
)

// Store is the slice of the project store the saver needs.
type Store interface {
	UpdateProjectFileTree(ctx context.Context, projectID string, tree Tree) error
}

// Saver persists a project's file tree with a debounce window. Every call
// to Notify arms (or re-arms) a timer; the write happens only after the
// quiet window elapses with no further mutations, and always reflects the
// latest tree seen.
type Saver struct {
	store     Store
	projectID string
	quiet     time.Duration
	onError   func(error)

	mu      sync.Mutex
	timer   *time.Timer
	pending Tree
}

// NewSaver creates a saver for one project. onError is invoked (if non-nil)
// when a persistence attempt fails; the in-memory tree is not rolled back.
func NewSaver(store Store, projectID string, quiet time.Duration, onError func(error)) *Saver {
	return &Saver{
		store:     store,
		projectID: projectID,
		quiet:     quiet,
		onError:   onError,
	}
}

// Notify records the latest tree state and schedules a write after the
// quiet window. A notify arriving before the window elapses cancels the
// pending write and starts a new window.
func (s *Saver) Notify(tree Tree) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = tree
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.quiet, s.flushPending)
}

// Flush writes the pending tree immediately, cancelling any scheduled
// write. No-op when nothing is pending.
func (s *Saver) Flush() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	s.flushPending()
}

// Stop cancels any scheduled write without persisting.
func (s *Saver) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = nil
}

func (s *Saver) flushPending() {
	s.mu.Lock()
	tree := s.pending
	s.pending = nil
	s.timer = nil
	s.mu.Unlock()

	if tree == nil {
		return
	}

	if err := s.store.UpdateProjectFileTree(context.Background(), s.projectID, tree); err != nil {
		log.Printf("[Saver] Failed to persist file tree for project %s: %v", s.projectID, err)
		if s.onError != nil {
			s.onError(err)
		}
	}
}
