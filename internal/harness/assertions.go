package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/roach88/canvasync/internal/projector"
	"github.com/roach88/canvasync/internal/value"
)

// check evaluates one expectation against the open session.
func (h *Harness) check(ctx context.Context, exp Expectation) error {
	state := h.session.State
	switch {
	case exp.Element != "":
		e, ok := state.Find(exp.Element)
		if !ok {
			return fmt.Errorf("element %s not found", exp.Element)
		}
		if len(exp.Fields) == 0 {
			return nil
		}
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode %s: %w", exp.Element, err)
		}
		got, err := value.Decode(data)
		if err != nil {
			return fmt.Errorf("decode %s: %w", exp.Element, err)
		}
		return matchSubset(exp.Element, exp.Fields, got)

	case exp.Absent != "":
		if state.Has(exp.Absent) {
			return fmt.Errorf("element %s exists", exp.Absent)
		}
		return nil

	case exp.Collection != "":
		name := projector.Collection(exp.Collection)
		if !slices.Contains(projector.AllCollections, name) {
			return fmt.Errorf("unknown collection %q (want one of %v)", exp.Collection, collectionNames())
		}
		if n := len(state.Collections().Get(name)); n != *exp.Count {
			return fmt.Errorf("collection %s has %d element(s), want %d", exp.Collection, n, *exp.Count)
		}
		return nil

	case len(exp.Order) > 0:
		return checkOrder(state.Collections(), exp.Order)

	case exp.CanUndo != nil:
		if got := h.session.Ops.CanUndo(); got != *exp.CanUndo {
			return fmt.Errorf("can_undo is %v, want %v", got, *exp.CanUndo)
		}
		return nil

	case exp.CanRedo != nil:
		if got := h.session.Ops.CanRedo(); got != *exp.CanRedo {
			return fmt.Errorf("can_redo is %v, want %v", got, *exp.CanRedo)
		}
		return nil

	case exp.StoredOps != nil:
		recs, err := h.store.ReadOperations(ctx, h.project, 0)
		if err != nil {
			return fmt.Errorf("read op log: %w", err)
		}
		if len(recs) != *exp.StoredOps {
			return fmt.Errorf("op log has %d entr(ies), want %d", len(recs), *exp.StoredOps)
		}
		return nil
	}
	return fmt.Errorf("no check")
}

// matchSubset compares want against got. Objects match when every wanted
// key matches; other values match by canonical encoding, so 10 and 10.0
// are equal.
func matchSubset(path string, want any, got value.Value) error {
	if obj, ok := want.(map[string]any); ok {
		gotObj, ok := got.(value.Object)
		if !ok {
			return fmt.Errorf("%s: got %T, want an object", path, got)
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			sub, ok := gotObj[k]
			if !ok {
				if obj[k] == nil {
					continue
				}
				return fmt.Errorf("%s.%s: missing", path, k)
			}
			if err := matchSubset(path+"."+k, obj[k], sub); err != nil {
				return err
			}
		}
		return nil
	}

	wantVal, err := value.FromAny(want)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	wantJSON, err := value.Canonical(wantVal)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	gotJSON, err := value.Canonical(got)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if !bytes.Equal(wantJSON, gotJSON) {
		return fmt.Errorf("%s: got %s, want %s", path, gotJSON, wantJSON)
	}
	return nil
}

// checkOrder verifies that the listed ids appear in the given relative
// order when walking collections in stacking order.
func checkOrder(c projector.Collections, ids []string) error {
	pos := make(map[string]int)
	for i, e := range c.All() {
		pos[e.ID] = i
	}
	last := -1
	for _, id := range ids {
		p, ok := pos[id]
		if !ok {
			return fmt.Errorf("order: element %s not found", id)
		}
		if p < last {
			return fmt.Errorf("order: element %s is out of order", id)
		}
		last = p
	}
	return nil
}
