package canvas

import (
	"github.com/roach88/canvasync/internal/element"
	"github.com/roach88/canvasync/internal/op"
	"github.com/roach88/canvasync/internal/projector"
)

// DeleteOp builds a delete of ids from the current state. Connectors that
// touch any of them are included so that the inverse restores them too.
// Ids that do not exist are skipped; if none exist the error is
// UNKNOWN_ELEMENT.
func (s *State) DeleteOp(b op.Builder, ids ...string) (op.Operation, error) {
	cols := s.Collections()
	targets := make(map[string]bool, len(ids))
	var removed []element.Element
	for _, id := range ids {
		e, _, ok := cols.Find(id)
		if !ok || targets[id] {
			continue
		}
		targets[id] = true
		removed = append(removed, e)
	}
	if len(removed) == 0 {
		var first string
		if len(ids) > 0 {
			first = ids[0]
		}
		return op.Operation{}, op.NewUnknownElementError(op.Operation{Type: op.TypeDelete}, first)
	}
	for _, c := range cols.Get(projector.Connectors) {
		if targets[c.ID] {
			continue
		}
		if targets[c.From] || targets[c.To] {
			targets[c.ID] = true
			removed = append(removed, c)
		}
	}
	return b.Delete(removed...)
}

// UpdateOp builds an update of id with p against the current state.
func (s *State) UpdateOp(b op.Builder, id string, p element.Patch) (op.Operation, error) {
	e, ok := s.Find(id)
	if !ok {
		return op.Operation{}, op.NewUnknownElementError(op.Operation{Type: op.TypeUpdate}, id)
	}
	return b.Update(e, p)
}

// MoveOp builds a move of id by d.
func (s *State) MoveOp(b op.Builder, id string, d op.Delta) (op.Operation, error) {
	if !s.Has(id) {
		return op.Operation{}, op.NewUnknownElementError(op.Operation{Type: op.TypeMove}, id)
	}
	return b.Move(id, d)
}
