// Package document holds the in-memory model of the host editor's open
// documents and the pure reducer that applies events to it.
//
// Nothing in this package performs I/O or mutates shared state: Reduce
// takes a model value and returns a new one, in the same style as the
// rest of domain/. The store adapter owns the single live copy.
package document

// Bounds is a layer's bounding box in document pixel coordinates.
type Bounds struct {
	Top    float64
	Left   float64
	Bottom float64
	Right  float64
}

// Width returns the horizontal extent of the bounds.
func (b Bounds) Width() float64 { return b.Right - b.Left }

// Height returns the vertical extent of the bounds.
func (b Bounds) Height() float64 { return b.Bottom - b.Top }

// Layer is one node of a document's layer tree, flattened into z-order.
// Parent is the id of the enclosing group, empty at the root.
type Layer struct {
	ID       string
	Name     string
	Parent   string
	Kind     string
	Visible  bool
	Locked   bool
	Selected bool
	Bounds   Bounds
}

// Document is one open host document. Layers is ordered topmost first,
// matching the host's z-order.
type Document struct {
	ID     string
	Title  string
	Layers []Layer
}

// LayerIndex returns the position of the layer with the given id, or -1.
func (d Document) LayerIndex(id string) int {
	for i, l := range d.Layers {
		if l.ID == id {
			return i
		}
	}
	return -1
}

// SelectedIDs returns the ids of selected layers in z-order.
func (d Document) SelectedIDs() []string {
	var out []string
	for _, l := range d.Layers {
		if l.Selected {
			out = append(out, l.ID)
		}
	}
	return out
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	out := d
	out.Layers = make([]Layer, len(d.Layers))
	copy(out.Layers, d.Layers)
	return out
}

// Model is the full local mirror of host state: every open document plus
// which one is active. The active id is fed by host notifications, not
// read back by action bodies (they take explicit document ids).
type Model struct {
	Documents map[string]Document
	ActiveID  string
}

// NewModel returns an empty model.
func NewModel() Model {
	return Model{Documents: make(map[string]Document)}
}

// Clone returns a deep copy of the model.
func (m Model) Clone() Model {
	out := Model{
		Documents: make(map[string]Document, len(m.Documents)),
		ActiveID:  m.ActiveID,
	}
	for id, d := range m.Documents {
		out.Documents[id] = d.Clone()
	}
	return out
}

// Document returns the document with the given id.
func (m Model) Document(id string) (Document, bool) {
	d, ok := m.Documents[id]
	return d, ok
}
