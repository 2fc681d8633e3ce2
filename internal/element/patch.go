package element

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/canvasync/internal/value"
)

// Patch is a partial update. Top-level keys name element fields; the "meta"
// key holds a sub-object merged one level deep into the element's meta.
// A Null value clears an optional field or removes a meta key.
type Patch value.Object

// Patch keys.
const (
	KeyX        = "x"
	KeyY        = "y"
	KeyWidth    = "width"
	KeyHeight   = "height"
	KeyRotation = "rotation"
	KeyFrom     = "from"
	KeyTo       = "to"
	KeyMeta     = "meta"
)

// MetaKeyConnections is the meta key of nested connections. Connections are
// held as connector elements, so a patch may not set it.
const MetaKeyConnections = "connections"

// MarshalJSON implements json.Marshaler.
func (p Patch) MarshalJSON() ([]byte, error) {
	return value.Object(p).MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Patch) UnmarshalJSON(data []byte) error {
	var obj value.Object
	if err := obj.UnmarshalJSON(data); err != nil {
		return err
	}
	*p = Patch(obj)
	return nil
}

// MetaPatch returns the "meta" sub-object, or nil.
func (p Patch) MetaPatch() value.Object {
	m, _ := p[KeyMeta].(value.Object)
	return m
}

// Keys returns the patch's top-level keys in canonical order.
func (p Patch) Keys() []string {
	return value.Object(p).SortedKeys()
}

// Apply returns e with p merged in. The element is not modified. Apply fails
// if a key is unknown or a value has the wrong shape for its field.
func (e Element) Apply(p Patch) (Element, error) {
	out := e.Clone()
	for _, key := range p.Keys() {
		v := p[key]
		switch key {
		case KeyX, KeyY:
			f, ok := value.AsFloat(v)
			if !ok {
				return e, fmt.Errorf("patch %s: %s must be a number", e.ID, key)
			}
			if key == KeyX {
				out.X = f
			} else {
				out.Y = f
			}
		case KeyWidth, KeyHeight, KeyRotation:
			var ptr *float64
			if !value.IsNull(v) {
				f, ok := value.AsFloat(v)
				if !ok {
					return e, fmt.Errorf("patch %s: %s must be a number or null", e.ID, key)
				}
				ptr = Float(f)
			}
			switch key {
			case KeyWidth:
				out.Width = ptr
			case KeyHeight:
				out.Height = ptr
			default:
				out.Rotation = ptr
			}
		case KeyFrom, KeyTo:
			if e.Kind != KindConnector {
				return e, fmt.Errorf("patch %s: %s only applies to connectors", e.ID, key)
			}
			s, ok := v.(value.String)
			if !ok || s == "" {
				return e, fmt.Errorf("patch %s: %s must be a non-empty string", e.ID, key)
			}
			if key == KeyFrom {
				out.From = string(s)
			} else {
				out.To = string(s)
			}
		case KeyMeta:
			mp, ok := v.(value.Object)
			if !ok {
				return e, fmt.Errorf("patch %s: meta must be an object", e.ID)
			}
			meta, err := mergeMeta(e.Kind.Family(), e.Meta, mp)
			if err != nil {
				return e, fmt.Errorf("patch %s: %w", e.ID, err)
			}
			out.Meta = meta
		default:
			return e, fmt.Errorf("patch %s: unknown field %q", e.ID, key)
		}
	}
	return out, nil
}

// mergeMeta merges mp into m one level deep: each key of mp replaces the
// whole value under that key.
func mergeMeta(f Family, m Meta, mp value.Object) (Meta, error) {
	obj, err := metaObject(m)
	if err != nil {
		return nil, err
	}
	for k, v := range mp {
		if value.IsNull(v) {
			delete(obj, k)
			continue
		}
		obj[k] = v
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("merge meta: %w", err)
	}
	return decodeMeta(f, data, true)
}

// Revert returns the patch that restores e's current values for exactly the
// keys p changes. Absent optional fields and meta keys revert to Null.
func (e Element) Revert(p Patch) (Patch, error) {
	inv := make(Patch, len(p))
	for key, v := range p {
		switch key {
		case KeyX:
			inv[key] = value.Number(e.X)
		case KeyY:
			inv[key] = value.Number(e.Y)
		case KeyWidth:
			inv[key] = optionalNumber(e.Width)
		case KeyHeight:
			inv[key] = optionalNumber(e.Height)
		case KeyRotation:
			inv[key] = optionalNumber(e.Rotation)
		case KeyFrom:
			inv[key] = value.String(e.From)
		case KeyTo:
			inv[key] = value.String(e.To)
		case KeyMeta:
			mp, ok := v.(value.Object)
			if !ok {
				return nil, fmt.Errorf("revert %s: meta must be an object", e.ID)
			}
			current, err := metaObject(e.Meta)
			if err != nil {
				return nil, fmt.Errorf("revert %s: %w", e.ID, err)
			}
			prev := make(value.Object, len(mp))
			for k := range mp {
				if old, ok := current[k]; ok {
					prev[k] = value.Clone(old)
				} else {
					prev[k] = value.Null{}
				}
			}
			inv[key] = prev
		default:
			return nil, fmt.Errorf("revert %s: unknown field %q", e.ID, key)
		}
	}
	return inv, nil
}

func optionalNumber(f *float64) value.Value {
	if f == nil {
		return value.Null{}
	}
	return value.Number(*f)
}

// PositionPatch builds the patch that places an element at (x, y).
func PositionPatch(x, y float64) Patch {
	return Patch{KeyX: value.Number(x), KeyY: value.Number(y)}
}
