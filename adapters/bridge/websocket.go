package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/artfold/designbridge/ports"
)

// Frame shapes of the scripting session. Requests carry an id and either
// one operation or a batch; the host answers with the same id. Frames
// without an id are host-originated notifications.
type wsFrame struct {
	ID      uint64           `json:"id,omitempty"`
	Op      string           `json:"op,omitempty"`
	Params  map[string]any   `json:"params,omitempty"`
	Batch   []wsOperation    `json:"batch,omitempty"`
	Result  map[string]any   `json:"result,omitempty"`
	Results []map[string]any `json:"results,omitempty"`
	Error   *wsError         `json:"error,omitempty"`
	Event   string           `json:"event,omitempty"`
	Body    map[string]any   `json:"body,omitempty"`
}

type wsOperation struct {
	Op     string         `json:"op"`
	Params map[string]any `json:"params,omitempty"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// WS drives a live editor session over a websocket scripting connection.
// One read loop correlates responses to pending calls by id and fans
// notifications out to subscribers. The session pushes every
// notification it produces; Subscribe filters locally.
type WS struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex // websocket writes are not concurrency-safe

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan wsFrame
	subs    []*wsSub

	closed    chan struct{}
	closeOnce sync.Once
}

// DialWS connects to the host's scripting endpoint.
func DialWS(ctx context.Context, url string, logger zerolog.Logger) (*WS, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial host bridge %q: %w", url, err)
	}
	b := &WS{
		conn:    conn,
		logger:  logger.With().Str("component", "bridge").Logger(),
		pending: make(map[uint64]chan wsFrame),
		closed:  make(chan struct{}),
	}
	go b.readLoop()
	return b, nil
}

// Execute implements ports.HostBridge.
func (b *WS) Execute(ctx context.Context, op ports.Operation) (ports.Descriptor, error) {
	resp, err := b.call(ctx, wsFrame{Op: op.Name, Params: op.Params})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &ports.HostOperationError{Op: op.Name, Code: resp.Error.Code, Message: resp.Error.Message}
	}
	return ports.Descriptor(resp.Result), nil
}

// ExecuteBatch implements ports.HostBridge.
func (b *WS) ExecuteBatch(ctx context.Context, ops []ports.Operation) ([]ports.Descriptor, error) {
	batch := make([]wsOperation, len(ops))
	for i, op := range ops {
		batch[i] = wsOperation{Op: op.Name, Params: op.Params}
	}
	resp, err := b.call(ctx, wsFrame{Batch: batch})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &ports.HostOperationError{Op: "batch", Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if len(resp.Results) != len(ops) {
		return nil, fmt.Errorf("host bridge: batch of %d returned %d results", len(ops), len(resp.Results))
	}
	out := make([]ports.Descriptor, len(resp.Results))
	for i, r := range resp.Results {
		out[i] = ports.Descriptor(r)
	}
	return out, nil
}

// Subscribe implements ports.HostBridge.
func (b *WS) Subscribe(name string, h ports.NotificationHandler) (ports.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &wsSub{name: name, handler: h}
	b.subs = append(b.subs, sub)
	return sub, nil
}

// Unsubscribe implements ports.HostBridge.
func (b *WS) Unsubscribe(sub ports.Subscription) error {
	ws, ok := sub.(*wsSub)
	if !ok {
		return fmt.Errorf("unsubscribe: foreign subscription %T", sub)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == ws {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return nil
		}
	}
	return nil
}

// Close implements ports.HostBridge.
func (b *WS) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)
		deadline := time.Now().Add(time.Second)
		b.writeMu.Lock()
		b.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		b.writeMu.Unlock()
		err = b.conn.Close()
	})
	return err
}

func (b *WS) call(ctx context.Context, req wsFrame) (wsFrame, error) {
	ch := make(chan wsFrame, 1)
	b.mu.Lock()
	b.nextID++
	req.ID = b.nextID
	b.pending[req.ID] = ch
	b.mu.Unlock()

	b.writeMu.Lock()
	err := b.conn.WriteJSON(req)
	b.writeMu.Unlock()
	if err != nil {
		b.forget(req.ID)
		return wsFrame{}, fmt.Errorf("host bridge write: %w", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		b.forget(req.ID)
		return wsFrame{}, ctx.Err()
	case <-b.closed:
		return wsFrame{}, fmt.Errorf("host bridge: session closed")
	}
}

func (b *WS) forget(id uint64) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

func (b *WS) readLoop() {
	for {
		var f wsFrame
		if err := b.conn.ReadJSON(&f); err != nil {
			select {
			case <-b.closed:
			default:
				b.logger.Error().Err(err).Msg("host bridge read failed")
				b.Close()
			}
			return
		}

		if f.Event != "" {
			b.notify(f.Event, ports.Descriptor(f.Body))
			continue
		}

		b.mu.Lock()
		ch, ok := b.pending[f.ID]
		delete(b.pending, f.ID)
		b.mu.Unlock()
		if !ok {
			b.logger.Warn().Uint64("id", f.ID).Msg("response for unknown call")
			continue
		}
		ch <- f
	}
}

func (b *WS) notify(name string, body ports.Descriptor) {
	b.mu.Lock()
	var handlers []ports.NotificationHandler
	for _, s := range b.subs {
		if s.name == name {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.Unlock()

	if len(handlers) == 0 {
		b.logger.Debug().Str("notification", name).Msg("unhandled host notification")
		return
	}
	for _, h := range handlers {
		h(name, body)
	}
}

type wsSub struct {
	name    string
	handler ports.NotificationHandler
}

func (s *wsSub) Notification() string { return s.name }

// Ensure interface compliance.
var _ ports.HostBridge = (*WS)(nil)
