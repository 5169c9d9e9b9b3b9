package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artfold/designbridge/adapters/bridge"
	"github.com/artfold/designbridge/adapters/clock"
	"github.com/artfold/designbridge/adapters/idgen"
	"github.com/artfold/designbridge/adapters/memory"
	"github.com/artfold/designbridge/app"
	"github.com/artfold/designbridge/domain/action"
	"github.com/artfold/designbridge/domain/event"
	"github.com/artfold/designbridge/domain/lock"
	"github.com/artfold/designbridge/ports"
)

type docEnv struct {
	mock  *bridge.Mock
	store *recordingStore
	svc   *app.DocumentService
}

func newDocEnv(t *testing.T) *docEnv {
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

	svc, err := app.NewDocumentService(action.NewRegistry(), locks, mock, disp, sched, resync, zerolog.Nop())
	if err != nil {
		t.Fatalf("document service: %v", err)
	}
	return &docEnv{mock: mock, store: store, svc: svc}
}

func TestDocumentService_OpenResolvesWithID(t *testing.T) {
	env := newDocEnv(t)

	env.mock.Respond(app.OpDocumentOpen, docDescriptor("d7", "l1"))

	v, err := awaitFuture(t, env.svc.Open(context.Background(), "/art/poster.psd"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if v != "d7" {
		t.Errorf("result = %v, want d7", v)
	}

	m := env.store.Snapshot()
	if m.ActiveID != "d7" {
		t.Errorf("active = %q, want d7", m.ActiveID)
	}
	if got := env.store.applied(); len(got) != 1 || got[0] != event.TypeDocumentReplaced {
		t.Errorf("events = %v", got)
	}
}

func TestDocumentService_OpenFailureResyncsAll(t *testing.T) {
	env := newDocEnv(t)

	hostErr := &ports.HostOperationError{Op: app.OpDocumentOpen, Code: 8820, Message: "file not found"}
	env.mock.Fail(app.OpDocumentOpen, hostErr)
	env.mock.Respond(app.OpDocumentList, ports.Descriptor{"documentIds": []any{}})

	_, err := awaitFuture(t, env.svc.Open(context.Background(), "/art/missing.psd"))
	if !errors.Is(err, hostErr) {
		t.Fatalf("err = %v, want %v", err, hostErr)
	}

	want := []string{"document.replaced.failed", event.TypeModelReplaced}
	got := env.store.applied()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestDocumentService_CloseRemovesDocument(t *testing.T) {
	env := newDocEnv(t)

	env.mock.Respond(app.OpDocumentOpen, docDescriptor("d1", "l1"))
	if _, err := awaitFuture(t, env.svc.Open(context.Background(), "/art/a.psd")); err != nil {
		t.Fatalf("open: %v", err)
	}
	env.store.reset()

	if _, err := awaitFuture(t, env.svc.Close(context.Background(), "d1")); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := env.store.applied(); len(got) != 1 || got[0] != event.TypeDocumentClosed {
		t.Errorf("events = %v", got)
	}
	m := env.store.Snapshot()
	if len(m.Documents) != 0 || m.ActiveID != "" {
		t.Errorf("model = %+v, want empty", m)
	}
}

func TestDocumentService_CloseFailureRestoresDocument(t *testing.T) {
	env := newDocEnv(t)

	env.mock.Respond(app.OpDocumentOpen, docDescriptor("d1", "l1"))
	if _, err := awaitFuture(t, env.svc.Open(context.Background(), "/art/a.psd")); err != nil {
		t.Fatalf("open: %v", err)
	}
	env.store.reset()

	hostErr := &ports.HostOperationError{Op: app.OpDocumentClose, Code: 8821, Message: "unsaved changes"}
	env.mock.Fail(app.OpDocumentClose, hostErr)
	env.mock.Respond(app.OpDocumentList, ports.Descriptor{
		"documentIds": []any{"d1"},
		"activeId":    "d1",
	})
	env.mock.Respond(app.OpDocumentGet, docDescriptor("d1", "l1"))

	_, err := awaitFuture(t, env.svc.Close(context.Background(), "d1"))
	if !errors.Is(err, hostErr) {
		t.Fatalf("err = %v, want %v", err, hostErr)
	}

	// The optimistic close is undone by the full snapshot.
	if _, ok := env.store.Snapshot().Document("d1"); !ok {
		t.Error("d1 missing, want it restored by the snapshot")
	}
	want := []string{event.TypeDocumentClosed, "document.closed.failed", event.TypeModelReplaced}
	got := env.store.applied()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}
