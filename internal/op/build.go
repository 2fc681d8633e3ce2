package op

import (
	"time"

	"github.com/google/uuid"

	"github.com/roach88/canvasync/internal/element"
	"github.com/roach88/canvasync/internal/value"
)

// NewRequestID returns a fresh time-sortable request ID (UUIDv7).
func NewRequestID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Builder constructs operations with their inverses. The zero value uses
// UUIDv7 request IDs and the wall clock; tests inject deterministic sources.
type Builder struct {
	NewID func() string
	Now   func() time.Time
}

// RequestID returns the next request id from b.
func (b Builder) RequestID() string {
	if b.NewID != nil {
		return b.NewID()
	}
	return NewRequestID()
}

// ClientTS returns the current client timestamp in Unix milliseconds.
func (b Builder) ClientTS() int64 {
	if b.Now != nil {
		return b.Now().UnixMilli()
	}
	return time.Now().UnixMilli()
}

func (b Builder) base(t Type, id string) Operation {
	return Operation{
		Type:      t,
		ElementID: id,
		RequestID: b.RequestID(),
		ClientTS:  b.ClientTS(),
	}
}

// Create builds a create for e whose inverse deletes it.
func (b Builder) Create(e element.Element) (Operation, error) {
	return b.CreateBatch([]element.Element{e})
}

// CreateBatch builds one create for several elements. Its inverse deletes
// all of them in a single step. A batch of one is a plain create.
func (b Builder) CreateBatch(elems []element.Element) (Operation, error) {
	batch, err := prepare(TypeCreate, elems)
	if err != nil {
		return Operation{}, err
	}
	o := b.creation(batch)
	inv := b.removal(batch)
	o.Inverse = &inv
	return o, nil
}

// Delete builds a delete of the given elements. removed must hold the full
// current state of every element that disappears, cascaded connectors
// included, so that the inverse can recreate them.
func (b Builder) Delete(removed ...element.Element) (Operation, error) {
	batch, err := prepare(TypeDelete, removed)
	if err != nil {
		return Operation{}, err
	}
	o := b.removal(batch)
	inv := b.creation(batch)
	o.Inverse = &inv
	return o, nil
}

func (b Builder) creation(batch []element.Element) Operation {
	if len(batch) == 1 {
		o := b.base(TypeCreate, batch[0].ID)
		e := batch[0].Clone()
		o.Data.Element = &e
		return o
	}
	o := b.base(TypeCreate, "")
	o.Data.Batch = make([]element.Element, len(batch))
	for i, e := range batch {
		o.Data.Batch[i] = e.Clone()
	}
	return o
}

func (b Builder) removal(batch []element.Element) Operation {
	if len(batch) == 1 {
		return b.base(TypeDelete, batch[0].ID)
	}
	o := b.base(TypeDelete, "")
	o.ElementIDs = make([]string, len(batch))
	for i, e := range batch {
		o.ElementIDs[i] = e.ID
	}
	return o
}

// prepare normalizes and validates the elements of a create or delete.
func prepare(t Type, elems []element.Element) ([]element.Element, error) {
	if len(elems) == 0 {
		return nil, malformed(Operation{Type: t}, "no elements")
	}
	out := make([]element.Element, 0, len(elems))
	seen := make(map[string]bool, len(elems))
	for _, e := range elems {
		e = e.Normalize()
		if err := e.Validate(); err != nil {
			return nil, malformed(Operation{Type: t, ElementID: e.ID}, "invalid element: %v", err)
		}
		if seen[e.ID] {
			return nil, malformed(Operation{Type: t, ElementID: e.ID}, "duplicate element")
		}
		seen[e.ID] = true
		e.Resource = ""
		out = append(out, e)
	}
	return out, nil
}

// Update builds an update that applies p to before. The inverse restores
// before's values for exactly the keys in p.
func (b Builder) Update(before element.Element, p element.Patch) (Operation, error) {
	shape := Operation{Type: TypeUpdate, ElementID: before.ID}
	if before.ID == "" {
		return Operation{}, malformed(shape, "missing element id")
	}
	if len(p) == 0 {
		return Operation{}, malformed(shape, "empty updates")
	}
	if patchesConnections(p) {
		return Operation{}, malformed(shape, errPatchConnections)
	}
	if _, err := before.Apply(p); err != nil {
		return Operation{}, malformed(shape, "%v", err)
	}
	prev, err := before.Revert(p)
	if err != nil {
		return Operation{}, malformed(shape, "%v", err)
	}
	o := b.base(TypeUpdate, before.ID)
	o.Data.Updates = element.Patch(value.Object(p).Clone())
	inv := b.base(TypeUpdate, before.ID)
	inv.Data.Updates = prev
	o.Inverse = &inv
	return o, nil
}

// Move builds a relative move of id by d; the inverse moves by -d.
func (b Builder) Move(id string, d Delta) (Operation, error) {
	if id == "" {
		return Operation{}, malformed(Operation{Type: TypeMove}, "missing element id")
	}
	o := b.base(TypeMove, id)
	o.Data.Delta = &d
	back := d.Neg()
	inv := b.base(TypeMove, id)
	inv.Data.Delta = &back
	o.Inverse = &inv
	return o, nil
}

// Snapshot builds a destructive replace carrying doc. It has no inverse.
func (b Builder) Snapshot(doc element.Document) Operation {
	o := b.base(TypeSnapshot, "")
	o.Data.Snapshot = true
	o.Data.Elements = make(map[string]element.Element, len(doc.Elements))
	for id, e := range doc.Elements {
		if id == "" {
			continue
		}
		o.Data.Elements[id] = e.Clone()
	}
	md := doc.Metadata
	md.Order = append([]string(nil), doc.Metadata.Order...)
	md.Pending = append([]string(nil), doc.Metadata.Pending...)
	o.Data.Metadata = &md
	return o
}

var std Builder

// Create builds a create with a fresh request id.
func Create(e element.Element) (Operation, error) { return std.Create(e) }

// CreateBatch builds a batch create with a fresh request id.
func CreateBatch(elems []element.Element) (Operation, error) { return std.CreateBatch(elems) }

// Delete builds a delete with a fresh request id.
func Delete(removed ...element.Element) (Operation, error) { return std.Delete(removed...) }

// Update builds an update with a fresh request id.
func Update(before element.Element, p element.Patch) (Operation, error) { return std.Update(before, p) }

// Move builds a move with a fresh request id.
func Move(id string, d Delta) (Operation, error) { return std.Move(id, d) }

// Snapshot builds a snapshot replace with a fresh request id.
func Snapshot(doc element.Document) Operation { return std.Snapshot(doc) }
