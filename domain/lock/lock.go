// Package lock defines named serialization domains and lock sets.
// Locks are pure tokens: the package has no runtime behavior beyond
// registration and set arithmetic. Arbitration lives in app/scheduler.
package lock

import (
	"fmt"
	"sort"
)

// Standard lock names registered by every deployment.
const (
	DocumentModel    = "document_model"
	ApplicationState = "application_state"
	UIState          = "ui_state"
	HostDocument     = "host_document"
)

// Lock is an opaque token for one serialization domain.
// Identity is pointer identity; two locks are the same domain only if
// they came from the same Register call.
type Lock struct {
	name string
}

// Name returns the registered name of the lock.
func (l *Lock) Name() string { return l.name }

func (l *Lock) String() string { return l.name }

// DuplicateLockError reports a second registration of a lock name.
type DuplicateLockError struct {
	Name string
}

func (e *DuplicateLockError) Error() string {
	return fmt.Sprintf("lock %q registered twice", e.Name)
}

// Registry holds the fixed set of locks for a process.
// Registration happens once at boot; the registry is read-only afterwards
// and safe for concurrent lookup.
type Registry struct {
	byName map[string]*Lock
	order  []*Lock
}

// NewRegistry creates an empty lock registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Lock)}
}

// Register creates one lock per name and returns them keyed by name.
// Registering a name twice fails with DuplicateLockError.
func (r *Registry) Register(names ...string) (map[string]*Lock, error) {
	out := make(map[string]*Lock, len(names))
	for _, name := range names {
		if name == "" {
			return nil, fmt.Errorf("lock name must not be empty")
		}
		if _, exists := r.byName[name]; exists {
			return nil, &DuplicateLockError{Name: name}
		}
		l := &Lock{name: name}
		r.byName[name] = l
		r.order = append(r.order, l)
		out[name] = l
	}
	return out, nil
}

// Get returns the lock registered under name.
func (r *Registry) Get(name string) (*Lock, bool) {
	l, ok := r.byName[name]
	return l, ok
}

// All returns a set containing every registered lock.
func (r *Registry) All() Set {
	s := make(Set, len(r.order))
	for _, l := range r.order {
		s[l] = struct{}{}
	}
	return s
}

// Len returns the number of registered locks.
func (r *Registry) Len() int { return len(r.order) }

// Set is an unordered collection of locks.
type Set map[*Lock]struct{}

// NewSet builds a set from the given locks.
func NewSet(locks ...*Lock) Set {
	s := make(Set, len(locks))
	for _, l := range locks {
		if l != nil {
			s[l] = struct{}{}
		}
	}
	return s
}

// Contains reports whether l is in the set.
func (s Set) Contains(l *Lock) bool {
	_, ok := s[l]
	return ok
}

// Union returns a new set with the members of s and other.
func (s Set) Union(other Set) Set {
	out := make(Set, len(s)+len(other))
	for l := range s {
		out[l] = struct{}{}
	}
	for l := range other {
		out[l] = struct{}{}
	}
	return out
}

// Intersects reports whether s and other share any lock.
func (s Set) Intersects(other Set) bool {
	// Iterate the smaller side.
	if len(other) < len(s) {
		s, other = other, s
	}
	for l := range s {
		if _, ok := other[l]; ok {
			return true
		}
	}
	return false
}

// Missing returns the locks in s that are absent from other, sorted by
// name for stable error messages.
func (s Set) Missing(other Set) []*Lock {
	var out []*Lock
	for l := range s {
		if _, ok := other[l]; !ok {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Names returns the sorted names of the set's members.
func (s Set) Names() []string {
	out := make([]string, 0, len(s))
	for l := range s {
		out = append(out, l.name)
	}
	sort.Strings(out)
	return out
}
