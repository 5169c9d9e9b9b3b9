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

// Inbox folds host-originated notifications into the scheduler so they
// share the ordering guarantees of ordinary actions. Each notification
// becomes a minimally-locked invocation; only the modal-state change is
// handled inline, because the gate itself must not sit behind the gate.
type Inbox struct {
	bridge ports.HostBridge
	sched  *Scheduler
	disp   *Dispatcher
	resync *Resyncer
	logger zerolog.Logger

	selectionAct *action.Action
	activeDocAct *action.Action
	docChangeAct *action.Action

	subs []ports.Subscription
}

// NewInbox builds and registers the notification actions.
func NewInbox(reg *action.Registry, locks Locks, bridge ports.HostBridge, sched *Scheduler, disp *Dispatcher, resync *Resyncer, logger zerolog.Logger) (*Inbox, error) {
	in := &Inbox{
		bridge: bridge,
		sched:  sched,
		disp:   disp,
		resync: resync,
		logger: logger.With().Str("component", "inbox").Logger(),
	}

	// Notifications describe things the host already did, so they may
	// run during modal state; deferring them would only widen the gap
	// between model and host.
	in.selectionAct = &action.Action{
		Name:         "notify.selection",
		Writes:       lock.NewSet(locks.DocumentModel),
		ModalAllowed: true,
		Run:          in.runSelection,
	}
	in.activeDocAct = &action.Action{
		Name:         "notify.active_document",
		Writes:       lock.NewSet(locks.ApplicationState),
		ModalAllowed: true,
		Run:          in.runActiveDocument,
	}
	in.docChangeAct = &action.Action{
		Name:         "notify.document_changed",
		Reads:        lock.NewSet(locks.HostDocument),
		Writes:       lock.NewSet(locks.DocumentModel),
		ModalAllowed: true,
		Run:          in.runDocumentChanged,
	}

	for _, a := range []*action.Action{in.selectionAct, in.activeDocAct, in.docChangeAct} {
		if err := reg.Register(a); err != nil {
			return nil, err
		}
	}
	return in, nil
}

// Start subscribes to the host notifications. Handlers only enqueue, so
// the bridge's read loop is never blocked.
func (in *Inbox) Start() error {
	subs := []struct {
		name    string
		handler ports.NotificationHandler
	}{
		{NotifyModalState, in.onModalState},
		{NotifySelection, in.onQueued(in.selectionAct)},
		{NotifyActiveDocument, in.onQueued(in.activeDocAct)},
		{NotifyDocumentChanged, in.onQueued(in.docChangeAct)},
	}
	for _, s := range subs {
		sub, err := in.bridge.Subscribe(s.name, s.handler)
		if err != nil {
			in.Stop()
			return fmt.Errorf("subscribe %q: %w", s.name, err)
		}
		in.subs = append(in.subs, sub)
	}
	return nil
}

// Stop drops all subscriptions.
func (in *Inbox) Stop() {
	for _, sub := range in.subs {
		if err := in.bridge.Unsubscribe(sub); err != nil {
			in.logger.Warn().Err(err).Str("notification", sub.Notification()).Msg("unsubscribe failed")
		}
	}
	in.subs = nil
}

func (in *Inbox) onModalState(name string, body ports.Descriptor) {
	in.sched.SetModal(body.Bool("modal"))
}

func (in *Inbox) onQueued(act *action.Action) ports.NotificationHandler {
	return func(name string, body ports.Descriptor) {
		in.logger.Debug().Str("notification", name).Msg("host notification queued")
		in.sched.Submit(context.Background(), act, body)
	}
}

func (in *Inbox) runSelection(ctx context.Context, args any) (any, error) {
	body, ok := args.(ports.Descriptor)
	if !ok {
		return nil, fmt.Errorf("notify.selection: args are %T", args)
	}
	docID := body.String("documentId")
	layerIDs, err := idsFromDescriptor(body, "layerIds")
	if err != nil || docID == "" {
		// Unexpected shape from the host: re-derive instead of guessing.
		return nil, in.resync.All(ctx)
	}
	return nil, in.disp.DispatchAsync(ctx, event.New(event.TypeLayersSelected, document.SelectLayers{
		DocumentID: docID,
		LayerIDs:   layerIDs,
	}))
}

func (in *Inbox) runActiveDocument(ctx context.Context, args any) (any, error) {
	body, ok := args.(ports.Descriptor)
	if !ok {
		return nil, fmt.Errorf("notify.active_document: args are %T", args)
	}
	docID := body.String("documentId")
	if docID == "" {
		return nil, in.resync.All(ctx)
	}
	return nil, in.disp.DispatchAsync(ctx, event.New(event.TypeDocumentActive, document.ActivateDocument{
		DocumentID: docID,
	}))
}

// runDocumentChanged covers externally triggered edits: the host tells
// us something changed but not what, so the answer is always a resync
// of that document.
func (in *Inbox) runDocumentChanged(ctx context.Context, args any) (any, error) {
	body, ok := args.(ports.Descriptor)
	if !ok {
		return nil, fmt.Errorf("notify.document_changed: args are %T", args)
	}
	docID := body.String("documentId")
	if docID == "" {
		return nil, in.resync.All(ctx)
	}
	return nil, in.resync.Document(ctx, docID)
}
