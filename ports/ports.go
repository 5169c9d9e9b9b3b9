// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"fmt"
	"time"

	"github.com/artfold/designbridge/domain/document"
	"github.com/artfold/designbridge/domain/event"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers (invocation ids, call ids).
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Host Bridge Port
// -----------------------------------------------------------------------------

// Operation is one host scripting call: a command name plus parameters.
// The parameter shapes are host-defined; the core treats them opaquely.
type Operation struct {
	Name   string
	Params map[string]any
}

// Descriptor is a host result: a property bag describing host state.
type Descriptor map[string]any

// String returns the string property under key, or "".
func (d Descriptor) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Bool returns the boolean property under key.
func (d Descriptor) Bool(key string) bool {
	b, _ := d[key].(bool)
	return b
}

// Float returns the numeric property under key. JSON transports deliver
// all numbers as float64; integer-typed values are accepted too.
func (d Descriptor) Float(key string) float64 {
	switch v := d[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// List returns the slice property under key.
func (d Descriptor) List(key string) []any {
	l, _ := d[key].([]any)
	return l
}

// Child returns the nested descriptor under key.
func (d Descriptor) Child(key string) Descriptor {
	switch v := d[key].(type) {
	case Descriptor:
		return v
	case map[string]any:
		return Descriptor(v)
	}
	return nil
}

// HostOperationError is a host-side rejection of an operation. Any
// occurrence means local and host state may have diverged; callers
// dispatch a failure event and trigger a resync.
type HostOperationError struct {
	Op      string
	Code    int
	Message string
}

func (e *HostOperationError) Error() string {
	return fmt.Sprintf("host operation %q failed: %s (code %d)", e.Op, e.Message, e.Code)
}

// NotificationHandler receives one host-originated notification.
type NotificationHandler func(name string, body Descriptor)

// Subscription identifies an active notification subscription.
type Subscription interface {
	// Notification returns the subscribed notification name.
	Notification() string
}

// HostBridge is the scripting/automation interface to the editor process.
// The core assumes it is the only logical client of the live session.
type HostBridge interface {
	// Execute runs one host operation and returns its result descriptor.
	Execute(ctx context.Context, op Operation) (Descriptor, error)

	// ExecuteBatch runs several operations in order and returns one
	// descriptor per operation. The batch is not transactional.
	ExecuteBatch(ctx context.Context, ops []Operation) ([]Descriptor, error)

	// Subscribe registers a handler for a host notification. Handlers
	// may be called from the bridge's read loop and must not block.
	Subscribe(name string, h NotificationHandler) (Subscription, error)

	// Unsubscribe removes a subscription.
	Unsubscribe(sub Subscription) error

	// Close tears down the bridge session.
	Close() error
}

// -----------------------------------------------------------------------------
// Model Store Port
// -----------------------------------------------------------------------------

// ModelStore is the sole applier of events to the document model.
// Only the dispatcher calls Apply; everything else reads snapshots.
type ModelStore interface {
	// Apply folds one event into the model.
	Apply(e event.Event) error

	// Snapshot returns a deep copy of the current model.
	Snapshot() document.Model
}

// -----------------------------------------------------------------------------
// Journal Port
// -----------------------------------------------------------------------------

// JournalEntry is one audit record of a dispatched event.
type JournalEntry struct {
	ID        string
	EventType string
	Payload   []byte // JSON-encoded event payload
	At        time.Time
}

// Journal persists the dispatch audit trail.
type Journal interface {
	// AppendBatch stores entries in order.
	AppendBatch(ctx context.Context, entries []JournalEntry) error

	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]JournalEntry, error)
}

// JournalRecorder accepts journal entries for async persistence.
// Record must be non-blocking; batching and flushing are the
// implementation's concern.
type JournalRecorder interface {
	Record(entry JournalEntry)
}

// -----------------------------------------------------------------------------
// Instrumentation Port
// -----------------------------------------------------------------------------

// Instrumentation receives protocol telemetry. The prometheus adapter
// implements it; a no-op implementation is used when metrics are off.
type Instrumentation interface {
	ActionSubmitted(action string)
	ActionStarted(action string, wait time.Duration)
	ActionSettled(action string, failed bool, duration time.Duration)
	QueueDepth(pending, running int)
	EventDispatched(eventType string)
	ResyncStarted()
	ResyncApplied()
	ResyncSuperseded()
	ResyncFailed()
	ConsistencyErrorDetected(action string)
}

// NopInstrumentation discards all telemetry.
type NopInstrumentation struct{}

func (NopInstrumentation) ActionSubmitted(string)                    {}
func (NopInstrumentation) ActionStarted(string, time.Duration)      {}
func (NopInstrumentation) ActionSettled(string, bool, time.Duration) {}
func (NopInstrumentation) QueueDepth(int, int)                      {}
func (NopInstrumentation) EventDispatched(string)                   {}
func (NopInstrumentation) ResyncStarted()                           {}
func (NopInstrumentation) ResyncApplied()                           {}
func (NopInstrumentation) ResyncSuperseded()                        {}
func (NopInstrumentation) ResyncFailed()                            {}
func (NopInstrumentation) ConsistencyErrorDetected(string)          {}
