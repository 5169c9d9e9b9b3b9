package app

import (
	"github.com/artfold/designbridge/domain/lock"
)

// Locks bundles the standard serialization domains the built-in services
// declare against.
type Locks struct {
	DocumentModel    *lock.Lock
	ApplicationState *lock.Lock
	UIState          *lock.Lock
	HostDocument     *lock.Lock
}

// StandardLocks registers the standard lock names and returns their
// handles. Extra deployment-specific lock names from config are
// registered separately by bootstrap.
func StandardLocks(reg *lock.Registry) (Locks, error) {
	m, err := reg.Register(lock.DocumentModel, lock.ApplicationState, lock.UIState, lock.HostDocument)
	if err != nil {
		return Locks{}, err
	}
	return Locks{
		DocumentModel:    m[lock.DocumentModel],
		ApplicationState: m[lock.ApplicationState],
		UIState:          m[lock.UIState],
		HostDocument:     m[lock.HostDocument],
	}, nil
}
