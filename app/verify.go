package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/artfold/designbridge/ports"
)

// ConsistencyError reports a post-settlement mismatch between the local
// model and host state. It is diagnostic: the divergence handler decides
// what to do about it (in practice, resync).
type ConsistencyError struct {
	Action string
	Detail string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency check after %q: %s", e.Action, e.Detail)
}

// CheckLayerOrder compares the host's layer order for docID against the
// model's. Higher-risk actions wrap it in a post check.
func CheckLayerOrder(ctx context.Context, bridge ports.HostBridge, store ports.ModelStore, actionName, docID string) error {
	desc, err := bridge.Execute(ctx, opLayerOrder(docID))
	if err != nil {
		return fmt.Errorf("verify layer order for %q: %w", docID, err)
	}
	hostIDs, err := idsFromDescriptor(desc, "layerIds")
	if err != nil {
		return fmt.Errorf("verify layer order for %q: %w", docID, err)
	}

	doc, ok := store.Snapshot().Document(docID)
	if !ok {
		return &ConsistencyError{
			Action: actionName,
			Detail: fmt.Sprintf("document %q open on host but absent from model", docID),
		}
	}
	modelIDs := make([]string, len(doc.Layers))
	for i, l := range doc.Layers {
		modelIDs[i] = l.ID
	}
	if !equalIDs(hostIDs, modelIDs) {
		return &ConsistencyError{
			Action: actionName,
			Detail: fmt.Sprintf("layer order diverged in %q: host [%s], model [%s]",
				docID, strings.Join(hostIDs, " "), strings.Join(modelIDs, " ")),
		}
	}
	return nil
}

// CheckSelection compares the host's selection set for docID against
// the model's.
func CheckSelection(ctx context.Context, bridge ports.HostBridge, store ports.ModelStore, actionName, docID string) error {
	desc, err := bridge.Execute(ctx, opSelectionGet(docID))
	if err != nil {
		return fmt.Errorf("verify selection for %q: %w", docID, err)
	}
	hostIDs, err := idsFromDescriptor(desc, "layerIds")
	if err != nil {
		return fmt.Errorf("verify selection for %q: %w", docID, err)
	}

	doc, ok := store.Snapshot().Document(docID)
	if !ok {
		return &ConsistencyError{
			Action: actionName,
			Detail: fmt.Sprintf("document %q open on host but absent from model", docID),
		}
	}
	if !equalIDs(hostIDs, doc.SelectedIDs()) {
		return &ConsistencyError{
			Action: actionName,
			Detail: fmt.Sprintf("selection diverged in %q: host [%s], model [%s]",
				docID, strings.Join(hostIDs, " "), strings.Join(doc.SelectedIDs(), " ")),
		}
	}
	return nil
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
