package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/artfold/designbridge/domain/action"
	"github.com/artfold/designbridge/domain/document"
	"github.com/artfold/designbridge/domain/event"
	"github.com/artfold/designbridge/domain/lock"
	"github.com/artfold/designbridge/ports"
)

// ActionFailure is the payload of *.failed events. The reducer ignores
// it; the journal and subscribers are the audience.
type ActionFailure struct {
	DocumentID string
	Reason     string
}

// Argument types for the layer actions. Every action takes the target
// document explicitly; "current document" is resolved by the caller at
// the UI boundary, never read from ambient state.

type SelectLayersArgs struct {
	DocumentID string
	LayerIDs   []string
}

type SetVisibilityArgs struct {
	DocumentID string
	LayerID    string
	Visible    bool
}

type ReorderLayersArgs struct {
	DocumentID string
	LayerIDs   []string
}

type DeleteLayersArgs struct {
	DocumentID string
	LayerIDs   []string
}

// LayerService exposes the layer actions. Each follows the same
// pipeline: dispatch the optimistic event, drive the host, then either
// confirm or dispatch the failure variant and resync.
type LayerService struct {
	bridge ports.HostBridge
	disp   *Dispatcher
	sched  *Scheduler
	resync *Resyncer
	store  ports.ModelStore
	logger zerolog.Logger

	selectAct     *action.Action
	visibilityAct *action.Action
	reorderAct    *action.Action
	deleteAct     *action.Action
}

// LayerServiceConfig carries construction options.
type LayerServiceConfig struct {
	// Verify enables post-settlement consistency checks on the
	// higher-risk actions (reorder, delete).
	Verify bool
}

// NewLayerService builds and registers the layer actions.
func NewLayerService(reg *action.Registry, locks Locks, bridge ports.HostBridge, disp *Dispatcher, sched *Scheduler, resync *Resyncer, store ports.ModelStore, cfg LayerServiceConfig, logger zerolog.Logger) (*LayerService, error) {
	s := &LayerService{
		bridge: bridge,
		disp:   disp,
		sched:  sched,
		resync: resync,
		store:  store,
		logger: logger.With().Str("component", "layers").Logger(),
	}

	s.selectAct = &action.Action{
		Name:   "layer.select",
		Reads:  lock.NewSet(locks.ApplicationState),
		Writes: lock.NewSet(locks.DocumentModel, locks.HostDocument),
		Run:    s.runSelect,
	}
	s.visibilityAct = &action.Action{
		Name:   "layer.visibility",
		Reads:  lock.NewSet(locks.ApplicationState),
		Writes: lock.NewSet(locks.DocumentModel, locks.HostDocument),
		Run:    s.runVisibility,
	}
	s.reorderAct = &action.Action{
		Name:   "layer.reorder",
		Reads:  lock.NewSet(locks.ApplicationState),
		Writes: lock.NewSet(locks.DocumentModel, locks.HostDocument),
		Run:    s.runReorder,
	}
	// Delete selects the surviving neighbor afterwards, so it declares
	// the transfer and must hold every lock select needs.
	s.deleteAct = &action.Action{
		Name:      "layer.delete",
		Reads:     lock.NewSet(locks.ApplicationState),
		Writes:    lock.NewSet(locks.DocumentModel, locks.HostDocument),
		Transfers: []*action.Action{s.selectAct},
		Run:       s.runDelete,
	}

	if cfg.Verify {
		s.reorderAct.Post = []action.PostCheck{func(ctx context.Context, args any) error {
			a, ok := args.(ReorderLayersArgs)
			if !ok {
				return nil
			}
			return CheckLayerOrder(ctx, bridge, store, s.reorderAct.Name, a.DocumentID)
		}}
		s.deleteAct.Post = []action.PostCheck{func(ctx context.Context, args any) error {
			a, ok := args.(DeleteLayersArgs)
			if !ok {
				return nil
			}
			return CheckSelection(ctx, bridge, store, s.deleteAct.Name, a.DocumentID)
		}}
	}

	for _, a := range []*action.Action{s.selectAct, s.visibilityAct, s.reorderAct, s.deleteAct} {
		if err := reg.Register(a); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Select replaces the selection of a document.
func (s *LayerService) Select(ctx context.Context, docID string, layerIDs []string) *Future {
	return s.sched.Submit(ctx, s.selectAct, SelectLayersArgs{DocumentID: docID, LayerIDs: layerIDs})
}

// SetVisibility shows or hides one layer.
func (s *LayerService) SetVisibility(ctx context.Context, docID, layerID string, visible bool) *Future {
	return s.sched.Submit(ctx, s.visibilityAct, SetVisibilityArgs{DocumentID: docID, LayerID: layerID, Visible: visible})
}

// Reorder replaces a document's z-order.
func (s *LayerService) Reorder(ctx context.Context, docID string, layerIDs []string) *Future {
	return s.sched.Submit(ctx, s.reorderAct, ReorderLayersArgs{DocumentID: docID, LayerIDs: layerIDs})
}

// Delete removes layers and selects the host-chosen survivor.
func (s *LayerService) Delete(ctx context.Context, docID string, layerIDs []string) *Future {
	return s.sched.Submit(ctx, s.deleteAct, DeleteLayersArgs{DocumentID: docID, LayerIDs: layerIDs})
}

func (s *LayerService) runSelect(ctx context.Context, args any) (any, error) {
	a, ok := args.(SelectLayersArgs)
	if !ok {
		return nil, fmt.Errorf("layer.select: args are %T", args)
	}

	optimistic := event.New(event.TypeLayersSelected, document.SelectLayers{
		DocumentID: a.DocumentID,
		LayerIDs:   a.LayerIDs,
	})
	if err := s.disp.DispatchAsync(ctx, optimistic); err != nil {
		return nil, s.recover(ctx, event.TypeLayersSelected, a.DocumentID, err)
	}

	if _, err := s.bridge.Execute(ctx, opLayerSelect(a.DocumentID, a.LayerIDs)); err != nil {
		return nil, s.recover(ctx, event.TypeLayersSelected, a.DocumentID, err)
	}
	return nil, nil
}

func (s *LayerService) runVisibility(ctx context.Context, args any) (any, error) {
	a, ok := args.(SetVisibilityArgs)
	if !ok {
		return nil, fmt.Errorf("layer.visibility: args are %T", args)
	}

	optimistic := event.New(event.TypeLayerVisibility, document.SetVisibility{
		DocumentID: a.DocumentID,
		LayerID:    a.LayerID,
		Visible:    a.Visible,
	})
	if err := s.disp.DispatchAsync(ctx, optimistic); err != nil {
		return nil, s.recover(ctx, event.TypeLayerVisibility, a.DocumentID, err)
	}

	if _, err := s.bridge.Execute(ctx, opLayerVisibility(a.DocumentID, a.LayerID, a.Visible)); err != nil {
		return nil, s.recover(ctx, event.TypeLayerVisibility, a.DocumentID, err)
	}
	return nil, nil
}

func (s *LayerService) runReorder(ctx context.Context, args any) (any, error) {
	a, ok := args.(ReorderLayersArgs)
	if !ok {
		return nil, fmt.Errorf("layer.reorder: args are %T", args)
	}

	optimistic := event.New(event.TypeLayersReordered, document.ReorderLayers{
		DocumentID: a.DocumentID,
		LayerIDs:   a.LayerIDs,
	})
	if err := s.disp.DispatchAsync(ctx, optimistic); err != nil {
		return nil, s.recover(ctx, event.TypeLayersReordered, a.DocumentID, err)
	}

	desc, err := s.bridge.Execute(ctx, opLayerReorder(a.DocumentID, a.LayerIDs))
	if err != nil {
		return nil, s.recover(ctx, event.TypeLayersReordered, a.DocumentID, err)
	}

	// The host may normalize the order (group boundaries, clipped
	// masks). Its answer is authoritative; confirm when it differs.
	if confirmed, err := idsFromDescriptor(desc, "layerIds"); err == nil && !equalIDs(confirmed, a.LayerIDs) {
		s.disp.Dispatch(event.New(event.TypeLayersReordered, document.ReorderLayers{
			DocumentID: a.DocumentID,
			LayerIDs:   confirmed,
		}))
	}
	return nil, nil
}

func (s *LayerService) runDelete(ctx context.Context, args any) (any, error) {
	a, ok := args.(DeleteLayersArgs)
	if !ok {
		return nil, fmt.Errorf("layer.delete: args are %T", args)
	}

	optimistic := event.New(event.TypeLayersDeleted, document.DeleteLayers{
		DocumentID: a.DocumentID,
		LayerIDs:   a.LayerIDs,
	})
	if err := s.disp.DispatchAsync(ctx, optimistic); err != nil {
		return nil, s.recover(ctx, event.TypeLayersDeleted, a.DocumentID, err)
	}

	desc, err := s.bridge.Execute(ctx, opLayerDelete(a.DocumentID, a.LayerIDs))
	if err != nil {
		return nil, s.recover(ctx, event.TypeLayersDeleted, a.DocumentID, err)
	}

	// The host picks the surviving layer to select. Delegate to the
	// select action (declared transfer) to fold that in.
	if survivors, err := idsFromDescriptor(desc, "selectedIds"); err == nil && len(survivors) > 0 {
		if _, err := s.runSelect(ctx, SelectLayersArgs{DocumentID: a.DocumentID, LayerIDs: survivors}); err != nil {
			return nil, fmt.Errorf("layer.delete: select survivors: %w", err)
		}
	}
	return nil, nil
}

// recover converts a failed step into the corrective sequence: the
// failure event, then a resync of the affected document. The original
// error is returned so the invocation's future rejects.
func (s *LayerService) recover(ctx context.Context, eventType, docID string, cause error) error {
	s.disp.Dispatch(event.New(event.Failed(eventType), ActionFailure{
		DocumentID: docID,
		Reason:     cause.Error(),
	}))
	rctx := context.WithoutCancel(ctx)
	if err := s.resync.Document(rctx, docID); err != nil {
		s.logger.Error().Err(err).Str("document", docID).Msg("resync after failure also failed")
	}
	return cause
}
