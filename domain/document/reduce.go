package document

import (
	"fmt"

	"github.com/artfold/designbridge/domain/event"
)

// Event payloads. Feature code constructs these; only Reduce reads them.

// ReplaceDocument swaps in an authoritative snapshot of one document.
// It is the payload of both resync snapshots and document opens.
type ReplaceDocument struct {
	Document Document
	Activate bool
}

// ReplaceModel swaps in an authoritative snapshot of every open
// document. It is the payload of an all-documents resync.
type ReplaceModel struct {
	Documents []Document
	ActiveID  string
}

// CloseDocument removes a document from the model.
type CloseDocument struct {
	DocumentID string
}

// ActivateDocument marks a document as the host's active one.
type ActivateDocument struct {
	DocumentID string
}

// SelectLayers replaces the selection set of a document.
type SelectLayers struct {
	DocumentID string
	LayerIDs   []string
}

// SetVisibility shows or hides one layer.
type SetVisibility struct {
	DocumentID string
	LayerID    string
	Visible    bool
}

// ReorderLayers replaces a document's z-order with the given id sequence,
// which must be a permutation of the current layer ids.
type ReorderLayers struct {
	DocumentID string
	LayerIDs   []string
}

// DeleteLayers removes layers from a document.
type DeleteLayers struct {
	DocumentID string
	LayerIDs   []string
}

// UpdateBounds sets the confirmed bounds of one layer. Typically a
// confirming event after the host reports post-operation geometry.
type UpdateBounds struct {
	DocumentID string
	LayerID    string
	Bounds     Bounds
}

// Reduce applies one event to the model and returns the resulting model.
// It is deterministic and never mutates its input. Failure-variant events
// carry no model change and reduce to the input unchanged; unknown event
// types are an error so that divergence between emitters and the reducer
// surfaces immediately.
func Reduce(m Model, e event.Event) (Model, error) {
	if event.IsFailure(e.Type) {
		return m, nil
	}

	switch e.Type {
	case event.TypeModelReplaced:
		p, err := payload[ReplaceModel](e)
		if err != nil {
			return m, err
		}
		out := NewModel()
		for _, d := range p.Documents {
			out.Documents[d.ID] = d.Clone()
		}
		if _, ok := out.Documents[p.ActiveID]; ok {
			out.ActiveID = p.ActiveID
		}
		return out, nil

	case event.TypeDocumentReplaced:
		p, err := payload[ReplaceDocument](e)
		if err != nil {
			return m, err
		}
		out := m.Clone()
		if out.Documents == nil {
			out.Documents = make(map[string]Document)
		}
		out.Documents[p.Document.ID] = p.Document.Clone()
		if p.Activate || out.ActiveID == "" {
			out.ActiveID = p.Document.ID
		}
		return out, nil

	case event.TypeDocumentClosed:
		p, err := payload[CloseDocument](e)
		if err != nil {
			return m, err
		}
		out := m.Clone()
		delete(out.Documents, p.DocumentID)
		if out.ActiveID == p.DocumentID {
			out.ActiveID = ""
		}
		return out, nil

	case event.TypeDocumentActive:
		p, err := payload[ActivateDocument](e)
		if err != nil {
			return m, err
		}
		out := m.Clone()
		out.ActiveID = p.DocumentID
		return out, nil

	case event.TypeLayersSelected:
		p, err := payload[SelectLayers](e)
		if err != nil {
			return m, err
		}
		return reduceLayers(m, p.DocumentID, func(d *Document) error {
			want := idSet(p.LayerIDs)
			for i := range d.Layers {
				_, sel := want[d.Layers[i].ID]
				d.Layers[i].Selected = sel
			}
			return nil
		})

	case event.TypeLayerVisibility:
		p, err := payload[SetVisibility](e)
		if err != nil {
			return m, err
		}
		return reduceLayers(m, p.DocumentID, func(d *Document) error {
			i := d.LayerIndex(p.LayerID)
			if i < 0 {
				return fmt.Errorf("layer %q not in document %q", p.LayerID, p.DocumentID)
			}
			d.Layers[i].Visible = p.Visible
			return nil
		})

	case event.TypeLayersReordered:
		p, err := payload[ReorderLayers](e)
		if err != nil {
			return m, err
		}
		return reduceLayers(m, p.DocumentID, func(d *Document) error {
			if len(p.LayerIDs) != len(d.Layers) {
				return fmt.Errorf("reorder has %d ids, document %q has %d layers",
					len(p.LayerIDs), p.DocumentID, len(d.Layers))
			}
			byID := make(map[string]Layer, len(d.Layers))
			for _, l := range d.Layers {
				byID[l.ID] = l
			}
			next := make([]Layer, 0, len(p.LayerIDs))
			for _, id := range p.LayerIDs {
				l, ok := byID[id]
				if !ok {
					return fmt.Errorf("reorder names unknown layer %q", id)
				}
				delete(byID, id)
				next = append(next, l)
			}
			d.Layers = next
			return nil
		})

	case event.TypeLayersDeleted:
		p, err := payload[DeleteLayers](e)
		if err != nil {
			return m, err
		}
		return reduceLayers(m, p.DocumentID, func(d *Document) error {
			drop := idSet(p.LayerIDs)
			kept := d.Layers[:0:0]
			for _, l := range d.Layers {
				if _, gone := drop[l.ID]; !gone {
					kept = append(kept, l)
				}
			}
			d.Layers = kept
			return nil
		})

	case event.TypeLayerBounds:
		p, err := payload[UpdateBounds](e)
		if err != nil {
			return m, err
		}
		return reduceLayers(m, p.DocumentID, func(d *Document) error {
			i := d.LayerIndex(p.LayerID)
			if i < 0 {
				return fmt.Errorf("layer %q not in document %q", p.LayerID, p.DocumentID)
			}
			d.Layers[i].Bounds = p.Bounds
			return nil
		})
	}

	return m, fmt.Errorf("unknown event type %q", e.Type)
}

// reduceLayers clones the model, applies fn to one document's copy, and
// returns the result. The document must exist.
func reduceLayers(m Model, docID string, fn func(*Document) error) (Model, error) {
	d, ok := m.Documents[docID]
	if !ok {
		return m, fmt.Errorf("document %q not in model", docID)
	}
	out := m.Clone()
	next := d.Clone()
	if err := fn(&next); err != nil {
		return m, err
	}
	out.Documents[docID] = next
	return out, nil
}

func payload[T any](e event.Event) (T, error) {
	p, ok := e.Payload.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("event %q carries %T, want %T", e.Type, e.Payload, zero)
	}
	return p, nil
}

func idSet(ids []string) map[string]struct{} {
	s := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}
