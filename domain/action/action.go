// Package action defines the typed descriptor every schedulable
// operation carries: its lock declarations, the actions it may delegate
// to, and its behavior under the host's modal state.
//
// Declarations are static. The registry verifies at registration time
// that an action holds every lock its delegates need, so two unrelated
// top-level actions can never interleave in the middle of a delegation.
package action

import (
	"context"
	"fmt"
	"strings"

	"github.com/artfold/designbridge/domain/lock"
)

// Func is an action body. It receives the caller's arguments and returns
// the action result. Dependencies (bridge, dispatcher) are closed over at
// construction, not passed ambiently.
type Func func(ctx context.Context, args any) (any, error)

// PostCheck re-queries a narrow slice of host state after an action
// settles and compares it to the model. It receives the invocation's
// arguments so it can scope the query. A non-nil error signals suspected
// divergence; it is diagnostic and never fails the action itself.
type PostCheck func(ctx context.Context, args any) error

// Action describes one schedulable operation.
type Action struct {
	// Name identifies the action in logs, errors, and metrics.
	Name string

	// Reads and Writes are the lock domains the action touches.
	Reads  lock.Set
	Writes lock.Set

	// Transfers lists actions this one may invoke synchronously as part
	// of its own execution. The registry verifies lock sufficiency.
	Transfers []*Action

	// ModalAllowed marks the action safe to run while the host is in a
	// modal sub-state (for example in-place text editing).
	ModalAllowed bool

	// Post holds optional post-settlement consistency checks.
	Post []PostCheck

	// Run is the operation body.
	Run Func
}

// Held returns the union of the action's read and write sets.
func (a *Action) Held() lock.Set {
	return a.Reads.Union(a.Writes)
}

// InsufficientLockDeclarationError reports an action whose declared locks
// do not cover a delegate's needs.
type InsufficientLockDeclarationError struct {
	Caller  string
	Callee  string
	Missing []*lock.Lock
}

func (e *InsufficientLockDeclarationError) Error() string {
	names := make([]string, len(e.Missing))
	for i, l := range e.Missing {
		names[i] = l.Name()
	}
	return fmt.Sprintf("action %q transfers to %q without holding: %s",
		e.Caller, e.Callee, strings.Join(names, ", "))
}

// Registry holds all registered actions. Registration happens at boot;
// lookups afterwards are read-only.
type Registry struct {
	byName map[string]*Action
}

// NewRegistry creates an empty action registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Action)}
}

// Register validates and stores an action. It fails fast on a missing
// name or body, a duplicate name, or a transfer target whose lock needs
// exceed the action's own declarations:
//
//	callee.Reads  must be covered by caller.Reads ∪ caller.Writes
//	callee.Writes must be covered by caller.Writes
func (r *Registry) Register(a *Action) error {
	if a == nil {
		return fmt.Errorf("register: nil action")
	}
	if a.Name == "" {
		return fmt.Errorf("register: action has no name")
	}
	if a.Run == nil {
		return fmt.Errorf("register %q: action has no body", a.Name)
	}
	if _, exists := r.byName[a.Name]; exists {
		return fmt.Errorf("register %q: action already registered", a.Name)
	}
	for _, callee := range a.Transfers {
		if callee == nil {
			return fmt.Errorf("register %q: nil transfer target", a.Name)
		}
		if err := checkTransfer(a, callee); err != nil {
			return err
		}
	}
	r.byName[a.Name] = a
	return nil
}

// MustRegister is Register that panics on error, for boot-time wiring
// where a declaration bug should stop the process.
func (r *Registry) MustRegister(a *Action) *Action {
	if err := r.Register(a); err != nil {
		panic(err)
	}
	return a
}

// Get returns the action registered under name.
func (r *Registry) Get(name string) (*Action, bool) {
	a, ok := r.byName[name]
	return a, ok
}

// Len returns the number of registered actions.
func (r *Registry) Len() int { return len(r.byName) }

func checkTransfer(caller, callee *Action) error {
	if missing := callee.Reads.Missing(caller.Held()); len(missing) > 0 {
		return &InsufficientLockDeclarationError{
			Caller:  caller.Name,
			Callee:  callee.Name,
			Missing: missing,
		}
	}
	if missing := callee.Writes.Missing(caller.Writes); len(missing) > 0 {
		return &InsufficientLockDeclarationError{
			Caller:  caller.Name,
			Callee:  callee.Name,
			Missing: missing,
		}
	}
	return nil
}
