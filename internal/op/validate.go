package op

import (
	"encoding/json"
	"slices"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/canvasync/internal/element"
)

var opValidate = validator.New()

var patchKeys = []string{
	element.KeyX, element.KeyY, element.KeyWidth, element.KeyHeight,
	element.KeyRotation, element.KeyFrom, element.KeyTo, element.KeyMeta,
}

// Decode parses a wire operation and validates it. Errors are *Error values
// with code MALFORMED_OPERATION or MISSING_INVERSE.
func Decode(data []byte) (Operation, error) {
	var o Operation
	if err := json.Unmarshal(data, &o); err != nil {
		return Operation{}, &Error{Code: ErrCodeMalformed, Message: "decode: " + err.Error()}
	}
	if err := opValidate.Struct(o); err != nil {
		return Operation{}, malformed(o, "%v", err)
	}
	if err := Validate(o); err != nil {
		return Operation{}, err
	}
	return o, nil
}

// Validate checks that o has the fields its type requires and, unless it is
// a snapshot, an inverse of the matching type.
func Validate(o Operation) error {
	if err := validateShape(o); err != nil {
		return err
	}
	if !o.Undoable() {
		return nil
	}
	if o.Inverse == nil {
		return &Error{Code: ErrCodeMissingInverse, Message: "undoable operation has no inverse", RequestID: o.RequestID, ElementID: o.ElementID}
	}
	inv := *o.Inverse
	if err := validateShape(inv); err != nil {
		return malformed(o, "inverse: %v", err)
	}
	if !pairs(o, inv) {
		return malformed(o, "inverse %s does not undo %s", inv.Type, o.Type)
	}
	return nil
}

func validateShape(o Operation) error {
	switch o.Type {
	case TypeCreate:
		if (o.Data.Element == nil) == (len(o.Data.Batch) == 0) {
			return malformed(o, "create needs exactly one of data.element or data.batch")
		}
		elems := o.Data.Batch
		if o.Data.Element != nil {
			elems = []element.Element{*o.Data.Element}
		}
		seen := make(map[string]bool, len(elems))
		for _, e := range elems {
			if err := e.Validate(); err != nil {
				return malformed(o, "invalid element: %v", err)
			}
			if seen[e.ID] {
				return malformed(o, "duplicate element %s", e.ID)
			}
			seen[e.ID] = true
		}
		if o.Data.Element != nil && o.ElementID != "" && o.ElementID != o.Data.Element.ID {
			return malformed(o, "elementId does not match data.element.id")
		}
	case TypeUpdate:
		if o.ElementID == "" {
			return malformed(o, "update needs elementId")
		}
		if len(o.Data.Updates) == 0 {
			return malformed(o, "update needs data.updates")
		}
		for k := range o.Data.Updates {
			if !slices.Contains(patchKeys, k) {
				return malformed(o, "unknown update field %q", k)
			}
		}
		if patchesConnections(o.Data.Updates) {
			return malformed(o, errPatchConnections)
		}
	case TypeDelete:
		if len(o.Targets()) == 0 {
			return malformed(o, "delete needs elementId or elementIds")
		}
	case TypeMove:
		if o.ElementID == "" {
			return malformed(o, "move needs elementId")
		}
		if o.Data.Delta == nil {
			return malformed(o, "move needs data.delta")
		}
	case TypeSnapshot:
	default:
		return malformed(o, "unknown operation type %q", o.Type)
	}
	return nil
}

const errPatchConnections = "meta.connections cannot be updated; connect elements with connectors"

func patchesConnections(p element.Patch) bool {
	_, ok := p.MetaPatch()[element.MetaKeyConnections]
	return ok
}

// pairs reports whether inv is the right kind of operation to undo o.
func pairs(o, inv Operation) bool {
	switch o.Type {
	case TypeCreate:
		return inv.Type == TypeDelete && sameSet(createdIDs(o), inv.Targets())
	case TypeDelete:
		return inv.Type == TypeCreate && sameSet(o.Targets(), createdIDs(inv))
	case TypeUpdate, TypeMove:
		return inv.Type == o.Type && inv.ElementID == o.ElementID
	}
	return false
}

func createdIDs(o Operation) []string {
	if o.Data.Element != nil {
		return []string{o.Data.Element.ID}
	}
	ids := make([]string, len(o.Data.Batch))
	for i, e := range o.Data.Batch {
		ids[i] = e.ID
	}
	return ids
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := slices.Clone(a)
	y := slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}
