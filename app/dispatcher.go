// Package app contains the orchestration services of the protocol:
// the dispatcher (the single choke point for model mutation), the lock
// scheduler, the resynchronization fallback, and the feature action
// services built on top of them.
package app

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/artfold/designbridge/domain/event"
	"github.com/artfold/designbridge/ports"
)

// Dispatcher applies events to the model store, one at a time, in call
// order. Action bodies never touch the store directly; routing every
// mutation through here gives the protocol one place to serialize,
// journal, and observe model changes.
type Dispatcher struct {
	mu       sync.Mutex
	store    ports.ModelStore
	recorder ports.JournalRecorder // optional audit sink
	clock    ports.Clock
	ids      ports.IDGenerator
	inst     ports.Instrumentation
	logger   zerolog.Logger
}

// NewDispatcher creates a dispatcher. recorder may be nil when no
// journal is configured.
func NewDispatcher(store ports.ModelStore, recorder ports.JournalRecorder, clock ports.Clock, ids ports.IDGenerator, inst ports.Instrumentation, logger zerolog.Logger) *Dispatcher {
	if inst == nil {
		inst = ports.NopInstrumentation{}
	}
	return &Dispatcher{
		store:    store,
		recorder: recorder,
		clock:    clock,
		ids:      ids,
		inst:     inst,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch applies an event and returns immediately. Used for optimistic
// updates the caller does not need to await; apply errors are logged and
// absorbed, not propagated.
func (d *Dispatcher) Dispatch(e event.Event) {
	if err := d.apply(e); err != nil {
		d.logger.Error().Err(err).Str("event", e.Type).Msg("event rejected by store")
	}
}

// DispatchAsync applies an event and reports whether it was applied.
// Callers use it when a host call must be sequenced strictly after the
// local model reflects the pending change.
func (d *Dispatcher) DispatchAsync(ctx context.Context, e event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.apply(e)
}

func (d *Dispatcher) apply(e event.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.store.Apply(e)
	d.inst.EventDispatched(e.Type)
	d.journal(e)

	if err != nil {
		return err
	}
	d.logger.Debug().Str("event", e.Type).Msg("event applied")
	return nil
}

// journal records the event in the audit trail. Rejected events are
// journaled too: a store rejection is exactly the kind of divergence the
// trail exists to explain.
func (d *Dispatcher) journal(e event.Event) {
	if d.recorder == nil {
		return
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		payload = []byte(`{"unencodable":true}`)
	}
	d.recorder.Record(ports.JournalEntry{
		ID:        d.ids.New(),
		EventType: e.Type,
		Payload:   payload,
		At:        d.clock.Now(),
	})
}
