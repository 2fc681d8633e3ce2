package op

import (
	"github.com/roach88/canvasync/internal/element"
	"github.com/roach88/canvasync/internal/value"
)

// Type is the operation discriminator.
type Type string

const (
	TypeCreate   Type = "create"
	TypeUpdate   Type = "update"
	TypeDelete   Type = "delete"
	TypeMove     Type = "move"
	TypeSnapshot Type = "snapshot"
)

// Delta is a relative displacement.
type Delta struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns d + o.
func (d Delta) Add(o Delta) Delta {
	return Delta{X: d.X + o.X, Y: d.Y + o.Y}
}

// Neg returns -d.
func (d Delta) Neg() Delta {
	return Delta{X: -d.X, Y: -d.Y}
}

// Data is the type-specific payload of an operation. Which fields are set
// depends on Type:
//   - create: Element, or Batch for a multi-element create
//   - update: Updates
//   - move: Delta
//   - delete: nothing
//   - snapshot: Elements and Metadata, with Snapshot set
type Data struct {
	Element  *element.Element           `json:"element,omitempty"`
	Batch    []element.Element          `json:"batch,omitempty"`
	Updates  element.Patch              `json:"updates,omitempty"`
	Delta    *Delta                     `json:"delta,omitempty"`
	Elements map[string]element.Element `json:"elements,omitempty"`
	Metadata *element.Metadata          `json:"metadata,omitempty"`
	Snapshot bool                       `json:"snapshot,omitempty"`
}

// Operation is an atomic client-issued mutation. Inverse is the operation
// that exactly undoes this one; an Inverse never carries its own inverse on
// the wire.
type Operation struct {
	Type       Type       `json:"type" validate:"required,oneof=create update delete move snapshot"`
	ElementID  string     `json:"elementId,omitempty"`
	ElementIDs []string   `json:"elementIds,omitempty" validate:"omitempty,dive,required"`
	Data       Data       `json:"data"`
	Inverse    *Operation `json:"inverse,omitempty" validate:"omitempty"`
	RequestID  string     `json:"requestId" validate:"required"`
	ClientTS   int64      `json:"clientTs" validate:"gte=0"`
}

// Targets returns the element ids the operation addresses, batch ids first.
func (o Operation) Targets() []string {
	if len(o.ElementIDs) > 0 {
		return o.ElementIDs
	}
	if o.ElementID != "" {
		return []string{o.ElementID}
	}
	return nil
}

// IsSnapshot reports whether o is an explicit snapshot replace.
func (o Operation) IsSnapshot() bool {
	return o.Type == TypeSnapshot || o.Data.Snapshot
}

// LooksLikeSnapshot reports whether o carries a full element map and none of
// the incremental payloads. Transports that predate the explicit snapshot
// type deliver snapshots in this shape.
func (o Operation) LooksLikeSnapshot() bool {
	if o.IsSnapshot() {
		return true
	}
	d := o.Data
	return d.Elements != nil && d.Element == nil && d.Delta == nil && d.Updates == nil && len(d.Batch) == 0
}

// Undoable reports whether o may be pushed on an undo stack.
func (o Operation) Undoable() bool {
	return !o.IsSnapshot()
}

// Document returns the snapshot payload of o.
func (o Operation) Document() element.Document {
	doc := element.NewDocument()
	for id, e := range o.Data.Elements {
		if e.ID == "" {
			e.ID = id
		}
		if e.ID == "" {
			continue
		}
		doc.Elements[e.ID] = e
	}
	if o.Data.Metadata != nil {
		doc.Metadata = *o.Data.Metadata
		if doc.Metadata.Version == "" {
			doc.Metadata.Version = element.DocumentVersion
		}
	}
	return doc
}

// Invert returns the operation to persist when o is undone: o's inverse,
// reissued under requestID, whose own inverse is o without its inverse.
func (o Operation) Invert(requestID string, clientTS int64) (Operation, error) {
	if !o.Undoable() {
		return Operation{}, &Error{Code: ErrCodeNotUndoable, Message: "snapshot operations cannot be undone", RequestID: o.RequestID}
	}
	if o.Inverse == nil {
		return Operation{}, &Error{Code: ErrCodeMissingInverse, Message: "operation has no inverse", RequestID: o.RequestID, ElementID: o.ElementID}
	}
	inv := o.Inverse.Clone()
	orig := o.Clone()
	orig.Inverse = nil
	inv.Inverse = &orig
	inv.RequestID = requestID
	inv.ClientTS = clientTS
	return inv, nil
}

// Reissue returns a copy of o with a new request id and timestamp, used when
// an operation is applied again (redo).
func (o Operation) Reissue(requestID string, clientTS int64) Operation {
	cp := o.Clone()
	cp.RequestID = requestID
	cp.ClientTS = clientTS
	return cp
}

// Clone returns a copy of o that shares no mutable state with it.
func (o Operation) Clone() Operation {
	cp := o
	if o.ElementIDs != nil {
		cp.ElementIDs = append([]string(nil), o.ElementIDs...)
	}
	cp.Data = o.Data.clone()
	if o.Inverse != nil {
		inv := o.Inverse.Clone()
		cp.Inverse = &inv
	}
	return cp
}

func (d Data) clone() Data {
	cp := d
	if d.Element != nil {
		e := d.Element.Clone()
		cp.Element = &e
	}
	if d.Batch != nil {
		cp.Batch = make([]element.Element, len(d.Batch))
		for i, e := range d.Batch {
			cp.Batch[i] = e.Clone()
		}
	}
	if d.Updates != nil {
		cp.Updates = element.Patch(value.Object(d.Updates).Clone())
	}
	if d.Delta != nil {
		delta := *d.Delta
		cp.Delta = &delta
	}
	if d.Elements != nil {
		cp.Elements = make(map[string]element.Element, len(d.Elements))
		for id, e := range d.Elements {
			cp.Elements[id] = e.Clone()
		}
	}
	if d.Metadata != nil {
		md := *d.Metadata
		md.Order = append([]string(nil), d.Metadata.Order...)
		md.Pending = append([]string(nil), d.Metadata.Pending...)
		cp.Metadata = &md
	}
	return cp
}
