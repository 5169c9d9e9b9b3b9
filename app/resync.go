package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/artfold/designbridge/domain/document"
	"github.com/artfold/designbridge/domain/event"
	"github.com/artfold/designbridge/ports"
)

// Resyncer rebuilds local model state from an authoritative host query.
// It is the universal circuit-breaker: whenever an action suspects the
// optimistic path and host state have diverged (a host rejection, a
// malformed descriptor, a failed post check), it discards local state
// for the affected scope and re-derives it.
//
// Calls are generation-guarded so they are idempotent and safe to run
// concurrently: a snapshot is only applied if no resync that started
// after it has already applied one. The model always ends in the state
// of the newest snapshot, never an interleaving.
type Resyncer struct {
	bridge ports.HostBridge
	disp   *Dispatcher
	inst   ports.Instrumentation
	logger zerolog.Logger

	mu          sync.Mutex
	nextGen     uint64
	lastApplied uint64
}

// NewResyncer creates a resyncer.
func NewResyncer(bridge ports.HostBridge, disp *Dispatcher, inst ports.Instrumentation, logger zerolog.Logger) *Resyncer {
	if inst == nil {
		inst = ports.NopInstrumentation{}
	}
	return &Resyncer{
		bridge: bridge,
		disp:   disp,
		inst:   inst,
		logger: logger.With().Str("component", "resync").Logger(),
	}
}

// Document rebuilds one document from host state.
func (r *Resyncer) Document(ctx context.Context, docID string) error {
	gen := r.begin()
	r.logger.Info().Str("document", docID).Uint64("generation", gen).Msg("resync started")

	desc, err := r.bridge.Execute(ctx, opDocumentGet(docID))
	if err != nil {
		return r.fail(gen, fmt.Errorf("resync document %q: %w", docID, err))
	}
	doc, err := docFromDescriptor(desc)
	if err != nil {
		return r.fail(gen, fmt.Errorf("resync document %q: %w", docID, err))
	}

	return r.apply(ctx, gen, event.New(event.TypeDocumentReplaced, document.ReplaceDocument{
		Document: doc,
	}))
}

// All rebuilds every open document, replacing the whole model.
func (r *Resyncer) All(ctx context.Context) error {
	gen := r.begin()
	r.logger.Info().Uint64("generation", gen).Msg("full resync started")

	listing, err := r.bridge.Execute(ctx, opDocumentList())
	if err != nil {
		return r.fail(gen, fmt.Errorf("resync all: list documents: %w", err))
	}
	ids, err := idsFromDescriptor(listing, "documentIds")
	if err != nil {
		return r.fail(gen, fmt.Errorf("resync all: %w", err))
	}

	snapshot := document.ReplaceModel{ActiveID: listing.String("activeId")}
	if len(ids) > 0 {
		ops := make([]ports.Operation, len(ids))
		for i, id := range ids {
			ops[i] = opDocumentGet(id)
		}
		descs, err := r.bridge.ExecuteBatch(ctx, ops)
		if err != nil {
			return r.fail(gen, fmt.Errorf("resync all: fetch documents: %w", err))
		}
		if len(descs) != len(ids) {
			return r.fail(gen, fmt.Errorf("resync all: got %d descriptors for %d documents", len(descs), len(ids)))
		}
		for i, desc := range descs {
			doc, err := docFromDescriptor(desc)
			if err != nil {
				return r.fail(gen, fmt.Errorf("resync all: document %q: %w", ids[i], err))
			}
			snapshot.Documents = append(snapshot.Documents, doc)
		}
	}

	return r.apply(ctx, gen, event.New(event.TypeModelReplaced, snapshot))
}

// begin allocates the next resync generation.
func (r *Resyncer) begin() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextGen++
	r.inst.ResyncStarted()
	return r.nextGen
}

// apply dispatches the snapshot unless a later generation already won.
func (r *Resyncer) apply(ctx context.Context, gen uint64, e event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen <= r.lastApplied {
		r.inst.ResyncSuperseded()
		r.logger.Debug().
			Uint64("generation", gen).
			Uint64("superseded_by", r.lastApplied).
			Msg("resync snapshot superseded")
		return nil
	}
	if err := r.disp.DispatchAsync(ctx, e); err != nil {
		r.inst.ResyncFailed()
		return fmt.Errorf("resync: apply snapshot: %w", err)
	}
	r.lastApplied = gen
	r.inst.ResyncApplied()
	r.logger.Info().Uint64("generation", gen).Str("event", e.Type).Msg("resync snapshot applied")
	return nil
}

func (r *Resyncer) fail(gen uint64, err error) error {
	r.inst.ResyncFailed()
	r.logger.Error().Err(err).Uint64("generation", gen).Msg("resync failed")
	return err
}
