// Package memory provides in-memory implementations of storage ports.
package memory

import (
	"sync"

	"github.com/artfold/designbridge/domain/document"
	"github.com/artfold/designbridge/domain/event"
	"github.com/artfold/designbridge/ports"
)

// ModelStore holds the live document model and folds events into it
// with the pure reducer. The dispatcher is its only writer.
type ModelStore struct {
	mu    sync.RWMutex
	model document.Model
}

// NewModelStore creates an empty model store.
func NewModelStore() *ModelStore {
	return &ModelStore{model: document.NewModel()}
}

// Apply reduces one event into the model. On a reducer error the model
// is left unchanged.
func (s *ModelStore) Apply(e event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := document.Reduce(s.model, e)
	if err != nil {
		return err
	}
	s.model = next
	return nil
}

// Snapshot returns a deep copy of the current model.
func (s *ModelStore) Snapshot() document.Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model.Clone()
}

// Ensure interface compliance.
var _ ports.ModelStore = (*ModelStore)(nil)
