package bridge_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/artfold/designbridge/adapters/bridge"
	"github.com/artfold/designbridge/ports"
)

// frame mirrors the wire shape for the test host.
type frame struct {
	ID      uint64           `json:"id,omitempty"`
	Op      string           `json:"op,omitempty"`
	Params  map[string]any   `json:"params,omitempty"`
	Batch   []map[string]any `json:"batch,omitempty"`
	Result  map[string]any   `json:"result,omitempty"`
	Results []map[string]any `json:"results,omitempty"`
	Error   map[string]any   `json:"error,omitempty"`
	Event   string           `json:"event,omitempty"`
	Body    map[string]any   `json:"body,omitempty"`
}

// testHost runs a scripted host endpoint: respond decides the reply for
// each request frame; frames pushed to events go out as notifications.
func testHost(t *testing.T, respond func(f frame) frame) (url string, events chan frame) {
	t.Helper()
	events = make(chan frame, 8)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		requests := make(chan frame, 8)
		go func() {
			for {
				var f frame
				if err := conn.ReadJSON(&f); err != nil {
					close(requests)
					return
				}
				requests <- f
			}
		}()

		for {
			select {
			case f, ok := <-requests:
				if !ok {
					return
				}
				if err := conn.WriteJSON(respond(f)); err != nil {
					return
				}
			case ev := <-events:
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), events
}

func TestWS_Execute(t *testing.T) {
	url, _ := testHost(t, func(f frame) frame {
		if f.Op != "document.get" {
			t.Errorf("op = %q, want document.get", f.Op)
		}
		return frame{ID: f.ID, Result: map[string]any{"id": "doc-1", "title": "comp"}}
	})

	b, err := bridge.DialWS(context.Background(), url, zerolog.Nop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer b.Close()

	desc, err := b.Execute(context.Background(), ports.Operation{
		Name:   "document.get",
		Params: map[string]any{"documentId": "doc-1"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if desc.String("title") != "comp" {
		t.Errorf("title = %q, want comp", desc.String("title"))
	}
}

func TestWS_ExecuteHostError(t *testing.T) {
	url, _ := testHost(t, func(f frame) frame {
		return frame{ID: f.ID, Error: map[string]any{"code": 41, "message": "layer locked"}}
	})

	b, err := bridge.DialWS(context.Background(), url, zerolog.Nop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer b.Close()

	_, err = b.Execute(context.Background(), ports.Operation{Name: "layer.delete"})
	var hostErr *ports.HostOperationError
	if !errors.As(err, &hostErr) {
		t.Fatalf("err = %v, want HostOperationError", err)
	}
	if hostErr.Code != 41 || hostErr.Op != "layer.delete" {
		t.Errorf("hostErr = %+v", hostErr)
	}
}

func TestWS_ExecuteBatch(t *testing.T) {
	url, _ := testHost(t, func(f frame) frame {
		results := make([]map[string]any, len(f.Batch))
		for i, op := range f.Batch {
			results[i] = map[string]any{"op": op["op"]}
		}
		return frame{ID: f.ID, Results: results}
	})

	b, err := bridge.DialWS(context.Background(), url, zerolog.Nop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer b.Close()

	descs, err := b.ExecuteBatch(context.Background(), []ports.Operation{
		{Name: "document.get"}, {Name: "selection.get"},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(descs) != 2 || descs[1].String("op") != "selection.get" {
		t.Errorf("descs = %v", descs)
	}
}

func TestWS_Notifications(t *testing.T) {
	url, events := testHost(t, func(f frame) frame {
		return frame{ID: f.ID, Result: map[string]any{}}
	})

	b, err := bridge.DialWS(context.Background(), url, zerolog.Nop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer b.Close()

	got := make(chan ports.Descriptor, 1)
	sub, err := b.Subscribe("selectionChanged", func(name string, body ports.Descriptor) {
		got <- body
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if sub.Notification() != "selectionChanged" {
		t.Errorf("subscription name = %q", sub.Notification())
	}

	events <- frame{Event: "selectionChanged", Body: map[string]any{"documentId": "doc-1"}}

	select {
	case body := <-got:
		if body.String("documentId") != "doc-1" {
			t.Errorf("body = %v", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}

	if err := b.Unsubscribe(sub); err != nil {
		t.Errorf("unsubscribe: %v", err)
	}
}

func TestWS_ContextCancel(t *testing.T) {
	block := make(chan struct{})
	url, _ := testHost(t, func(f frame) frame {
		<-block
		return frame{ID: f.ID, Result: map[string]any{}}
	})
	defer close(block)

	b, err := bridge.DialWS(context.Background(), url, zerolog.Nop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := b.Execute(ctx, ports.Operation{Name: "document.get"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}
