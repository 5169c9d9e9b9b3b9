package app_test

import (
	"context"
	"errors"
	"sync"
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

// recordingStore wraps the in-memory store and keeps the sequence of
// event types it was asked to apply.
type recordingStore struct {
	inner *memory.ModelStore
	mu    sync.Mutex
	types []string
}

func (r *recordingStore) Apply(e event.Event) error {
	r.mu.Lock()
	r.types = append(r.types, e.Type)
	r.mu.Unlock()
	return r.inner.Apply(e)
}

func (r *recordingStore) Snapshot() document.Model {
	return r.inner.Snapshot()
}

func (r *recordingStore) applied() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.types))
	copy(out, r.types)
	return out
}

func (r *recordingStore) reset() {
	r.mu.Lock()
	r.types = nil
	r.mu.Unlock()
}

type layerEnv struct {
	mock  *bridge.Mock
	store *recordingStore
	sched *app.Scheduler
	svc   *app.LayerService
}

// newLayerEnv wires a layer service against the mock bridge and seeds
// one document with layers l1, l2, l3 (topmost first).
func newLayerEnv(t *testing.T, verify bool) *layerEnv {
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

	svc, err := app.NewLayerService(
		action.NewRegistry(), locks, mock, disp, sched, resync, store,
		app.LayerServiceConfig{Verify: verify}, zerolog.Nop(),
	)
	if err != nil {
		t.Fatalf("layer service: %v", err)
	}

	if err := disp.DispatchAsync(context.Background(), event.New(event.TypeDocumentReplaced, document.ReplaceDocument{
		Document: document.Document{
			ID:    "d1",
			Title: "d1.psd",
			Layers: []document.Layer{
				{ID: "l1", Name: "one", Visible: true},
				{ID: "l2", Name: "two", Visible: true},
				{ID: "l3", Name: "three", Visible: true},
			},
		},
		Activate: true,
	})); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store.reset()

	return &layerEnv{mock: mock, store: store, sched: sched, svc: svc}
}

func TestLayerService_SelectConfirms(t *testing.T) {
	env := newLayerEnv(t, false)

	if _, err := awaitFuture(t, env.svc.Select(context.Background(), "d1", []string{"l2"})); err != nil {
		t.Fatalf("select: %v", err)
	}

	if got := env.store.applied(); len(got) != 1 || got[0] != event.TypeLayersSelected {
		t.Errorf("events = %v, want [%s]", got, event.TypeLayersSelected)
	}
	doc, _ := env.store.Snapshot().Document("d1")
	if sel := doc.SelectedIDs(); len(sel) != 1 || sel[0] != "l2" {
		t.Errorf("selection = %v, want [l2]", sel)
	}
	if names := env.mock.CallNames(); len(names) != 1 || names[0] != app.OpLayerSelect {
		t.Errorf("host calls = %v, want [%s]", names, app.OpLayerSelect)
	}
}

// A rejected host call must produce exactly: the optimistic event, its
// failure variant, then the authoritative snapshot.
func TestLayerService_FailureEmitsFailedThenSnapshot(t *testing.T) {
	env := newLayerEnv(t, false)

	hostErr := &ports.HostOperationError{Op: app.OpLayerVisibility, Code: 8007, Message: "layer is locked"}
	env.mock.Fail(app.OpLayerVisibility, hostErr)
	env.mock.Respond(app.OpDocumentGet, docDescriptor("d1", "l1", "l2", "l3"))

	_, err := awaitFuture(t, env.svc.SetVisibility(context.Background(), "d1", "l2", false))
	if !errors.Is(err, hostErr) {
		t.Fatalf("err = %v, want %v", err, hostErr)
	}

	want := []string{
		event.TypeLayerVisibility,
		"layer.visibility.failed",
		event.TypeDocumentReplaced,
	}
	got := env.store.applied()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	// The snapshot wins: the optimistic hide is rolled back.
	doc, _ := env.store.Snapshot().Document("d1")
	if i := doc.LayerIndex("l2"); i < 0 || !doc.Layers[i].Visible {
		t.Error("l2 should be visible again after the snapshot")
	}
}

func TestLayerService_ReorderConfirmsHostOrder(t *testing.T) {
	env := newLayerEnv(t, false)

	// The host normalizes the requested order.
	env.mock.Respond(app.OpLayerReorder, ports.Descriptor{
		"layerIds": []any{"l3", "l1", "l2"},
	})

	if _, err := awaitFuture(t, env.svc.Reorder(context.Background(), "d1", []string{"l3", "l2", "l1"})); err != nil {
		t.Fatalf("reorder: %v", err)
	}

	got := env.store.applied()
	if len(got) != 2 || got[0] != event.TypeLayersReordered || got[1] != event.TypeLayersReordered {
		t.Fatalf("events = %v, want optimistic + confirming reorder", got)
	}
	doc, _ := env.store.Snapshot().Document("d1")
	order := []string{doc.Layers[0].ID, doc.Layers[1].ID, doc.Layers[2].ID}
	want := []string{"l3", "l1", "l2"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestLayerService_ReorderEchoedOrderNeedsNoConfirm(t *testing.T) {
	env := newLayerEnv(t, false)

	env.mock.Respond(app.OpLayerReorder, ports.Descriptor{
		"layerIds": []any{"l2", "l1", "l3"},
	})

	if _, err := awaitFuture(t, env.svc.Reorder(context.Background(), "d1", []string{"l2", "l1", "l3"})); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if got := env.store.applied(); len(got) != 1 {
		t.Errorf("events = %v, want a single reorder", got)
	}
}

func TestLayerService_DeleteSelectsSurvivor(t *testing.T) {
	env := newLayerEnv(t, false)

	env.mock.Respond(app.OpLayerDelete, ports.Descriptor{
		"selectedIds": []any{"l2"},
	})

	if _, err := awaitFuture(t, env.svc.Delete(context.Background(), "d1", []string{"l1"})); err != nil {
		t.Fatalf("delete: %v", err)
	}

	want := []string{event.TypeLayersDeleted, event.TypeLayersSelected}
	got := env.store.applied()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("events = %v, want %v", got, want)
	}

	doc, _ := env.store.Snapshot().Document("d1")
	if len(doc.Layers) != 2 {
		t.Fatalf("layers = %d, want 2", len(doc.Layers))
	}
	if sel := doc.SelectedIDs(); len(sel) != 1 || sel[0] != "l2" {
		t.Errorf("selection = %v, want [l2]", sel)
	}
	names := env.mock.CallNames()
	if len(names) != 2 || names[0] != app.OpLayerDelete || names[1] != app.OpLayerSelect {
		t.Errorf("host calls = %v", names)
	}
}

func TestLayerService_VerifyReportsDivergence(t *testing.T) {
	env := newLayerEnv(t, true)

	diverged := make(chan error, 1)
	env.sched.SetDivergenceHandler(func(_ context.Context, cause error) {
		select {
		case diverged <- cause:
		default:
		}
	})

	// Reorder settles cleanly, but the post-settlement order query shows
	// the host ended up somewhere else.
	env.mock.Respond(app.OpLayerReorder, ports.Descriptor{
		"layerIds": []any{"l2", "l1", "l3"},
	})
	env.mock.Respond(app.OpLayerOrder, ports.Descriptor{
		"layerIds": []any{"l1", "l2", "l3"},
	})

	if _, err := awaitFuture(t, env.svc.Reorder(context.Background(), "d1", []string{"l2", "l1", "l3"})); err != nil {
		t.Fatalf("reorder: %v", err)
	}

	select {
	case err := <-diverged:
		var ce *app.ConsistencyError
		if !errors.As(err, &ce) {
			t.Errorf("cause = %v, want ConsistencyError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("divergence never reported")
	}
}
