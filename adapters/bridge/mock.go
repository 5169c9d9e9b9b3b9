// Package bridge provides HostBridge implementations: a websocket
// client for a live editor session and a scripted mock for tests and
// detached development.
package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/artfold/designbridge/ports"
)

// Mock is a scripted in-memory host bridge. Tests (and `bridge.mode:
// mock` runs) queue responses per operation name, gate operations to
// control interleaving, and emit notifications by hand.
type Mock struct {
	mu       sync.Mutex
	calls    []ports.Operation
	results  map[string][]ports.Descriptor
	failures map[string]error
	blocks   map[string]chan struct{}
	fallback func(op ports.Operation) (ports.Descriptor, error)
	subs     []*mockSub
}

// NewMock creates an empty mock bridge. Operations without a scripted
// response resolve with an empty descriptor.
func NewMock() *Mock {
	return &Mock{
		results:  make(map[string][]ports.Descriptor),
		failures: make(map[string]error),
		blocks:   make(map[string]chan struct{}),
	}
}

// Respond queues one response for the named operation. Responses are
// consumed in order; the last one sticks if Respond is called once.
func (m *Mock) Respond(opName string, d ports.Descriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[opName] = append(m.results[opName], d)
}

// Fail makes every call of the named operation reject with err until
// cleared with Fail(opName, nil).
func (m *Mock) Fail(opName string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, opName)
		return
	}
	m.failures[opName] = err
}

// Handle installs a fallback handler for operations with no scripted
// response.
func (m *Mock) Handle(fn func(op ports.Operation) (ports.Descriptor, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = fn
}

// Block makes the named operation park until the returned release
// function is called. Used to pin down interleavings in scheduler tests.
func (m *Mock) Block(opName string) (release func()) {
	ch := make(chan struct{})
	m.mu.Lock()
	m.blocks[opName] = ch
	m.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Calls returns every executed operation in order.
func (m *Mock) Calls() []ports.Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ports.Operation, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallNames returns the operation names in execution order.
func (m *Mock) CallNames() []string {
	calls := m.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Name
	}
	return out
}

// Emit delivers a notification to matching subscribers.
func (m *Mock) Emit(name string, body ports.Descriptor) {
	m.mu.Lock()
	var handlers []ports.NotificationHandler
	for _, s := range m.subs {
		if s.name == name {
			handlers = append(handlers, s.handler)
		}
	}
	m.mu.Unlock()
	for _, h := range handlers {
		h(name, body)
	}
}

// Execute implements ports.HostBridge.
func (m *Mock) Execute(ctx context.Context, op ports.Operation) (ports.Descriptor, error) {
	m.mu.Lock()
	m.calls = append(m.calls, op)
	gate := m.blocks[op.Name]
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	if err := m.failures[op.Name]; err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if queued := m.results[op.Name]; len(queued) > 0 {
		d := queued[0]
		if len(queued) > 1 {
			m.results[op.Name] = queued[1:]
		}
		m.mu.Unlock()
		return d, nil
	}
	fn := m.fallback
	m.mu.Unlock()

	if fn != nil {
		return fn(op)
	}
	return ports.Descriptor{}, nil
}

// ExecuteBatch implements ports.HostBridge.
func (m *Mock) ExecuteBatch(ctx context.Context, ops []ports.Operation) ([]ports.Descriptor, error) {
	out := make([]ports.Descriptor, 0, len(ops))
	for _, op := range ops {
		d, err := m.Execute(ctx, op)
		if err != nil {
			return nil, fmt.Errorf("batch operation %q: %w", op.Name, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Subscribe implements ports.HostBridge.
func (m *Mock) Subscribe(name string, h ports.NotificationHandler) (ports.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := &mockSub{name: name, handler: h}
	m.subs = append(m.subs, sub)
	return sub, nil
}

// Unsubscribe implements ports.HostBridge.
func (m *Mock) Unsubscribe(sub ports.Subscription) error {
	ms, ok := sub.(*mockSub)
	if !ok {
		return fmt.Errorf("unsubscribe: foreign subscription %T", sub)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subs {
		if s == ms {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return nil
		}
	}
	return nil
}

// Close implements ports.HostBridge.
func (m *Mock) Close() error { return nil }

type mockSub struct {
	name    string
	handler ports.NotificationHandler
}

func (s *mockSub) Notification() string { return s.name }

// Ensure interface compliance.
var _ ports.HostBridge = (*Mock)(nil)
