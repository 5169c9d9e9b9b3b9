package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artfold/designbridge/adapters/bridge"
	"github.com/artfold/designbridge/adapters/clock"
	"github.com/artfold/designbridge/adapters/idgen"
	"github.com/artfold/designbridge/adapters/memory"
	"github.com/artfold/designbridge/app"
	"github.com/artfold/designbridge/domain/action"
	"github.com/artfold/designbridge/domain/document"
	"github.com/artfold/designbridge/domain/event"
	"github.com/artfold/designbridge/domain/lock"
	"github.com/artfold/designbridge/ports"
)

type inboxEnv struct {
	mock  *bridge.Mock
	store *recordingStore
	sched *app.Scheduler
	inbox *app.Inbox
}

func newInboxEnv(t *testing.T) *inboxEnv {
	t.Helper()

	locks, err := app.StandardLocks(lock.NewRegistry())
	if err != nil {
		t.Fatalf("locks: %v", err)
	}
	mock := bridge.NewMock()
	store := &recordingStore{inner: memory.NewModelStore()}
	disp := app.NewDispatcher(
		store, nil,
		clock.NewFake(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)),
		idgen.NewSequential("evt-"),
		nil, zerolog.Nop(),
	)
	sched := app.NewScheduler(
		clock.NewFake(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)),
		idgen.NewSequential("inv-"),
		nil, zerolog.Nop(),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sched.Shutdown(ctx)
	})
	resync := app.NewResyncer(mock, disp, nil, zerolog.Nop())

	inbox, err := app.NewInbox(action.NewRegistry(), locks, mock, sched, disp, resync, zerolog.Nop())
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if err := inbox.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(inbox.Stop)

	if err := disp.DispatchAsync(context.Background(), event.New(event.TypeDocumentReplaced, document.ReplaceDocument{
		Document: document.Document{
			ID: "d1",
			Layers: []document.Layer{
				{ID: "l1", Visible: true},
				{ID: "l2", Visible: true},
			},
		},
		Activate: true,
	})); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store.reset()

	return &inboxEnv{mock: mock, store: store, sched: sched, inbox: inbox}
}

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestInbox_SelectionNotificationUpdatesModel(t *testing.T) {
	env := newInboxEnv(t)

	env.mock.Emit(app.NotifySelection, ports.Descriptor{
		"documentId": "d1",
		"layerIds":   []any{"l2"},
	})

	waitUntil(t, func() bool {
		doc, ok := env.store.Snapshot().Document("d1")
		if !ok {
			return false
		}
		sel := doc.SelectedIDs()
		return len(sel) == 1 && sel[0] == "l2"
	}, "selection never reached the model")
}

func TestInbox_ActiveDocumentNotification(t *testing.T) {
	env := newInboxEnv(t)

	env.mock.Emit(app.NotifyActiveDocument, ports.Descriptor{"documentId": "d1"})

	waitUntil(t, func() bool {
		return env.store.Snapshot().ActiveID == "d1"
	}, "active document never updated")
}

func TestInbox_ModalNotificationFlipsGate(t *testing.T) {
	env := newInboxEnv(t)

	env.mock.Emit(app.NotifyModalState, ports.Descriptor{"modal": true})
	waitUntil(t, func() bool { return env.sched.Modal() }, "modal gate never raised")

	env.mock.Emit(app.NotifyModalState, ports.Descriptor{"modal": false})
	waitUntil(t, func() bool { return !env.sched.Modal() }, "modal gate never cleared")
}

func TestInbox_DocumentChangedTriggersResync(t *testing.T) {
	env := newInboxEnv(t)

	// External edit: host reports the document changed, resync pulls the
	// new truth (l2 is gone).
	env.mock.Respond(app.OpDocumentGet, docDescriptor("d1", "l1"))
	env.mock.Emit(app.NotifyDocumentChanged, ports.Descriptor{"documentId": "d1"})

	waitUntil(t, func() bool {
		doc, ok := env.store.Snapshot().Document("d1")
		return ok && len(doc.Layers) == 1 && doc.Layers[0].ID == "l1"
	}, "resync after documentChanged never applied")
}

func TestInbox_MalformedSelectionFallsBackToFullResync(t *testing.T) {
	env := newInboxEnv(t)

	env.mock.Respond(app.OpDocumentList, ports.Descriptor{
		"documentIds": []any{"d1"},
		"activeId":    "d1",
	})
	env.mock.Respond(app.OpDocumentGet, docDescriptor("d1", "l1", "l2"))

	// No layerIds list: the shape is unusable, so re-derive everything.
	env.mock.Emit(app.NotifySelection, ports.Descriptor{"documentId": "d1"})

	waitUntil(t, func() bool {
		for _, typ := range env.store.applied() {
			if typ == event.TypeModelReplaced {
				return true
			}
		}
		return false
	}, "full resync never happened")
}
