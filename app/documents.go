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

// OpenDocumentArgs asks the host to open the file at Path.
type OpenDocumentArgs struct {
	Path string
}

// CloseDocumentArgs closes one open document.
type CloseDocumentArgs struct {
	DocumentID string
}

// DocumentService exposes document lifecycle actions.
type DocumentService struct {
	bridge ports.HostBridge
	disp   *Dispatcher
	sched  *Scheduler
	resync *Resyncer
	logger zerolog.Logger

	openAct  *action.Action
	closeAct *action.Action
}

// NewDocumentService builds and registers the document actions.
func NewDocumentService(reg *action.Registry, locks Locks, bridge ports.HostBridge, disp *Dispatcher, sched *Scheduler, resync *Resyncer, logger zerolog.Logger) (*DocumentService, error) {
	s := &DocumentService{
		bridge: bridge,
		disp:   disp,
		sched:  sched,
		resync: resync,
		logger: logger.With().Str("component", "documents").Logger(),
	}

	s.openAct = &action.Action{
		Name:   "document.open",
		Writes: lock.NewSet(locks.DocumentModel, locks.ApplicationState, locks.HostDocument),
		Run:    s.runOpen,
	}
	s.closeAct = &action.Action{
		Name:   "document.close",
		Writes: lock.NewSet(locks.DocumentModel, locks.ApplicationState, locks.HostDocument),
		Run:    s.runClose,
	}

	for _, a := range []*action.Action{s.openAct, s.closeAct} {
		if err := reg.Register(a); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Open asks the host to open a file. The future resolves with the new
// document id.
func (s *DocumentService) Open(ctx context.Context, path string) *Future {
	return s.sched.Submit(ctx, s.openAct, OpenDocumentArgs{Path: path})
}

// Close closes an open document.
func (s *DocumentService) Close(ctx context.Context, docID string) *Future {
	return s.sched.Submit(ctx, s.closeAct, CloseDocumentArgs{DocumentID: docID})
}

// runOpen has no optimistic phase: the document id does not exist until
// the host answers, so the first dispatch is already the confirmation.
func (s *DocumentService) runOpen(ctx context.Context, args any) (any, error) {
	a, ok := args.(OpenDocumentArgs)
	if !ok {
		return nil, fmt.Errorf("document.open: args are %T", args)
	}

	desc, err := s.bridge.Execute(ctx, opDocumentOpen(a.Path))
	if err != nil {
		return nil, s.recoverAll(ctx, event.TypeDocumentReplaced, err)
	}
	doc, err := docFromDescriptor(desc)
	if err != nil {
		// The open may well have succeeded on the host side; only a
		// full query can tell.
		return nil, s.recoverAll(ctx, event.TypeDocumentReplaced, err)
	}

	if err := s.disp.DispatchAsync(ctx, event.New(event.TypeDocumentReplaced, document.ReplaceDocument{
		Document: doc,
		Activate: true,
	})); err != nil {
		return nil, s.recoverAll(ctx, event.TypeDocumentReplaced, err)
	}
	return doc.ID, nil
}

func (s *DocumentService) runClose(ctx context.Context, args any) (any, error) {
	a, ok := args.(CloseDocumentArgs)
	if !ok {
		return nil, fmt.Errorf("document.close: args are %T", args)
	}

	optimistic := event.New(event.TypeDocumentClosed, document.CloseDocument{DocumentID: a.DocumentID})
	if err := s.disp.DispatchAsync(ctx, optimistic); err != nil {
		return nil, s.recoverAll(ctx, event.TypeDocumentClosed, err)
	}

	if _, err := s.bridge.Execute(ctx, opDocumentClose(a.DocumentID)); err != nil {
		return nil, s.recoverAll(ctx, event.TypeDocumentClosed, err)
	}
	return nil, nil
}

// recoverAll is the document-scope variant of the corrective sequence:
// lifecycle failures can shift which documents are open and active, so
// the resync covers all of them.
func (s *DocumentService) recoverAll(ctx context.Context, eventType string, cause error) error {
	s.disp.Dispatch(event.New(event.Failed(eventType), ActionFailure{Reason: cause.Error()}))
	rctx := context.WithoutCancel(ctx)
	if err := s.resync.All(rctx); err != nil {
		s.logger.Error().Err(err).Msg("resync after failure also failed")
	}
	return cause
}
