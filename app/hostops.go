package app

import (
	"fmt"

	"github.com/artfold/designbridge/domain/document"
	"github.com/artfold/designbridge/ports"
)

// Host operation names. The shapes below are the slice of the host's
// scripting surface this layer drives; everything else the host can do
// stays behind feature code that is not part of this repo.
const (
	OpDocumentList  = "document.list"
	OpDocumentGet   = "document.get"
	OpDocumentOpen  = "document.open"
	OpDocumentClose = "document.close"

	OpLayerSelect     = "layer.select"
	OpLayerVisibility = "layer.visibility"
	OpLayerReorder    = "layer.reorder"
	OpLayerDelete     = "layer.delete"
	OpLayerOrder      = "layer.order"
	OpSelectionGet    = "selection.get"
)

// Host notification names the protocol folds into the dispatch path.
const (
	NotifyModalState      = "modalStateChanged"
	NotifyActiveDocument  = "activeDocumentChanged"
	NotifySelection       = "selectionChanged"
	NotifyDocumentChanged = "documentChanged"
)

func opDocumentList() ports.Operation {
	return ports.Operation{Name: OpDocumentList}
}

func opDocumentGet(docID string) ports.Operation {
	return ports.Operation{Name: OpDocumentGet, Params: map[string]any{"documentId": docID}}
}

func opDocumentOpen(path string) ports.Operation {
	return ports.Operation{Name: OpDocumentOpen, Params: map[string]any{"path": path}}
}

func opDocumentClose(docID string) ports.Operation {
	return ports.Operation{Name: OpDocumentClose, Params: map[string]any{"documentId": docID}}
}

func opLayerSelect(docID string, layerIDs []string) ports.Operation {
	return ports.Operation{Name: OpLayerSelect, Params: map[string]any{
		"documentId": docID,
		"layerIds":   anySlice(layerIDs),
	}}
}

func opLayerVisibility(docID, layerID string, visible bool) ports.Operation {
	return ports.Operation{Name: OpLayerVisibility, Params: map[string]any{
		"documentId": docID,
		"layerId":    layerID,
		"visible":    visible,
	}}
}

func opLayerReorder(docID string, layerIDs []string) ports.Operation {
	return ports.Operation{Name: OpLayerReorder, Params: map[string]any{
		"documentId": docID,
		"layerIds":   anySlice(layerIDs),
	}}
}

func opLayerDelete(docID string, layerIDs []string) ports.Operation {
	return ports.Operation{Name: OpLayerDelete, Params: map[string]any{
		"documentId": docID,
		"layerIds":   anySlice(layerIDs),
	}}
}

func opLayerOrder(docID string) ports.Operation {
	return ports.Operation{Name: OpLayerOrder, Params: map[string]any{"documentId": docID}}
}

func opSelectionGet(docID string) ports.Operation {
	return ports.Operation{Name: OpSelectionGet, Params: map[string]any{"documentId": docID}}
}

func anySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// docFromDescriptor builds a document from a host document descriptor.
// The descriptor must carry "id", "title", and an ordered "layers" list.
func docFromDescriptor(d ports.Descriptor) (document.Document, error) {
	id := d.String("id")
	if id == "" {
		return document.Document{}, fmt.Errorf("document descriptor has no id: %v", d)
	}
	doc := document.Document{
		ID:    id,
		Title: d.String("title"),
	}
	for i, raw := range d.List("layers") {
		ld, ok := raw.(map[string]any)
		if !ok {
			return document.Document{}, fmt.Errorf("document %q: layer %d is %T, want object", id, i, raw)
		}
		layer, err := layerFromDescriptor(ports.Descriptor(ld))
		if err != nil {
			return document.Document{}, fmt.Errorf("document %q: %w", id, err)
		}
		doc.Layers = append(doc.Layers, layer)
	}
	return doc, nil
}

func layerFromDescriptor(d ports.Descriptor) (document.Layer, error) {
	id := d.String("id")
	if id == "" {
		return document.Layer{}, fmt.Errorf("layer descriptor has no id: %v", d)
	}
	layer := document.Layer{
		ID:       id,
		Name:     d.String("name"),
		Parent:   d.String("parent"),
		Kind:     d.String("kind"),
		Visible:  d.Bool("visible"),
		Locked:   d.Bool("locked"),
		Selected: d.Bool("selected"),
	}
	if b := d.Child("bounds"); b != nil {
		layer.Bounds = document.Bounds{
			Top:    b.Float("top"),
			Left:   b.Float("left"),
			Bottom: b.Float("bottom"),
			Right:  b.Float("right"),
		}
	}
	return layer, nil
}

// idsFromDescriptor reads a string-id list property.
func idsFromDescriptor(d ports.Descriptor, key string) ([]string, error) {
	raw, ok := d[key]
	if !ok {
		return nil, fmt.Errorf("descriptor has no %q list: %v", key, d)
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("descriptor %q is %T, want list", key, raw)
	}
	out := make([]string, 0, len(list))
	for i, v := range list {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("descriptor %q[%d] is %T, want string", key, i, v)
		}
		out = append(out, s)
	}
	return out, nil
}
