package element

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// DocumentVersion is written into every snapshot's metadata.
const DocumentVersion = "1"

// ErrNoDocument is returned by snapshot backends when a project has never
// been persisted.
var ErrNoDocument = errors.New("no snapshot document")

// Metadata describes a snapshot document. Order preserves canvas stacking
// order, which a JSON object cannot.
//
// Seq is the highest op log sequence up to which the document reflects every
// stored operation. Pending holds request ids of operations the document
// reflects that Seq does not cover: writes not yet confirmed, and confirmed
// writes stored after another writer's. Replay after hydration skips both.
type Metadata struct {
	Version string   `json:"version"`
	Order   []string `json:"order,omitempty"`
	Seq     int64    `json:"seq,omitempty"`
	Pending []string `json:"pending,omitempty"`
}

// Document is the full, destructive-replace representation of a project.
type Document struct {
	Elements map[string]Element `json:"elements"`
	Metadata Metadata           `json:"metadata"`
}

// NewDocument returns an empty document at the current version.
func NewDocument() Document {
	return Document{
		Elements: map[string]Element{},
		Metadata: Metadata{Version: DocumentVersion},
	}
}

// Ordered returns the document's elements in stacking order: first the ids
// listed in metadata, then any remaining ids sorted lexically.
func (d Document) Ordered() []Element {
	out := make([]Element, 0, len(d.Elements))
	seen := make(map[string]bool, len(d.Elements))
	for _, id := range d.Metadata.Order {
		e, ok := d.Elements[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, e)
	}
	var rest []string
	for id := range d.Elements {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		out = append(out, d.Elements[id])
	}
	return out
}

// UnmarshalJSON decodes a document. Records missing an id take the id of
// their map key; records with neither are dropped.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw struct {
		Elements map[string]json.RawMessage `json:"elements"`
		Metadata Metadata                   `json:"metadata"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal document: %w", err)
	}
	doc := Document{
		Elements: make(map[string]Element, len(raw.Elements)),
		Metadata: raw.Metadata,
	}
	for key, rec := range raw.Elements {
		var e Element
		if err := json.Unmarshal(rec, &e); err != nil {
			return fmt.Errorf("unmarshal document element %q: %w", key, err)
		}
		if e.ID == "" {
			e.ID = key
		}
		if e.ID == "" {
			continue
		}
		doc.Elements[e.ID] = e
	}
	*d = doc
	return nil
}
