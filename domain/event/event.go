// Package event defines the immutable events that flow through the
// dispatcher. Events are the only way model state changes: action bodies
// construct them, the dispatcher serializes them, and the document
// reducer interprets them.
package event

// Event is an immutable type/payload pair. Payload types are defined
// next to the reducer in domain/document.
type Event struct {
	Type    string
	Payload any
}

// Event types understood by the document reducer.
const (
	TypeModelReplaced    = "model.replaced"
	TypeDocumentReplaced = "document.replaced"
	TypeDocumentClosed   = "document.closed"
	TypeDocumentActive   = "document.activated"

	TypeLayersSelected  = "layer.selected"
	TypeLayerVisibility = "layer.visibility"
	TypeLayersReordered = "layer.reordered"
	TypeLayersDeleted   = "layer.deleted"
	TypeLayerBounds     = "layer.bounds"
)

// Failed derives the failure variant of an event type. Actions dispatch
// it when the host call behind an optimistic update rejects.
func Failed(eventType string) string {
	return eventType + ".failed"
}

// IsFailure reports whether t is a failure variant.
func IsFailure(t string) bool {
	const suffix = ".failed"
	return len(t) > len(suffix) && t[len(t)-len(suffix):] == suffix
}

// New constructs an event.
func New(eventType string, payload any) Event {
	return Event{Type: eventType, Payload: payload}
}
