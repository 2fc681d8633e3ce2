package element

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Element is a canvas entity. Width, Height and Rotation are optional.
// From and To are only meaningful for connectors.
//
// Resource is a transient handle to locally held binary content (for example
// an object URL for a not-yet-uploaded file). It is never serialised and is
// released when the element is deleted.
type Element struct {
	ID       string
	Kind     Kind
	X        float64
	Y        float64
	Width    *float64
	Height   *float64
	Rotation *float64
	From     string
	To       string
	Meta     Meta
	Resource string
}

// record is the wire and snapshot form of an Element.
type record struct {
	ID       string          `json:"id"`
	Type     Kind            `json:"type"`
	X        float64         `json:"x"`
	Y        float64         `json:"y"`
	Width    *float64        `json:"width,omitempty"`
	Height   *float64        `json:"height,omitempty"`
	Rotation *float64        `json:"rotation,omitempty"`
	Meta     json.RawMessage `json:"meta"`
	From     string          `json:"from,omitempty"`
	To       string          `json:"to,omitempty"`
}

// NewID returns a fresh time-sortable element ID (UUIDv7).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Float returns a pointer to f, for the optional dimension fields.
func Float(f float64) *float64 {
	return &f
}

// MarshalJSON encodes the element as an ElementRecord.
func (e Element) MarshalJSON() ([]byte, error) {
	meta := e.Meta
	if meta == nil {
		meta = ZeroMeta(e.Kind.Family())
	}
	metaJSON := []byte("{}")
	if meta != nil {
		var err error
		metaJSON, err = json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("marshal element %s meta: %w", e.ID, err)
		}
	}
	return json.Marshal(record{
		ID:       e.ID,
		Type:     e.Kind,
		X:        e.X,
		Y:        e.Y,
		Width:    e.Width,
		Height:   e.Height,
		Rotation: e.Rotation,
		Meta:     metaJSON,
		From:     e.From,
		To:       e.To,
	})
}

// UnmarshalJSON decodes an ElementRecord, selecting the meta variant from
// the record's type.
func (e *Element) UnmarshalJSON(data []byte) error {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("unmarshal element: %w", err)
	}
	if !rec.Type.Valid() {
		return fmt.Errorf("unmarshal element %s: unknown type %q", rec.ID, rec.Type)
	}
	meta, err := DecodeMeta(rec.Type.Family(), rec.Meta)
	if err != nil {
		return fmt.Errorf("unmarshal element %s: %w", rec.ID, err)
	}
	*e = Element{
		ID:       rec.ID,
		Kind:     rec.Type,
		X:        rec.X,
		Y:        rec.Y,
		Width:    rec.Width,
		Height:   rec.Height,
		Rotation: rec.Rotation,
		From:     rec.From,
		To:       rec.To,
		Meta:     meta,
	}
	return nil
}

// Validate checks the structural invariants of an element.
func (e Element) Validate() error {
	var errs []error
	if e.ID == "" {
		errs = append(errs, errors.New("missing id"))
	}
	if !e.Kind.Valid() {
		errs = append(errs, fmt.Errorf("unknown kind %q", e.Kind))
	}
	if e.Meta != nil && e.Kind.Valid() && e.Meta.Family() != e.Kind.Family() {
		errs = append(errs, fmt.Errorf("meta variant %s does not match kind %s", e.Meta.Family(), e.Kind))
	}
	if e.Kind == KindConnector {
		if e.From == "" || e.To == "" {
			errs = append(errs, errors.New("connector requires from and to"))
		}
	} else if e.From != "" || e.To != "" {
		errs = append(errs, fmt.Errorf("from/to set on non-connector kind %s", e.Kind))
	}
	if len(errs) > 0 {
		return fmt.Errorf("element %q: %w", e.ID, errors.Join(errs...))
	}
	return nil
}

// Normalize fills a missing meta with the kind's zero variant and drops
// empty connection lists so that equal elements compare equal.
func (e Element) Normalize() Element {
	if e.Meta == nil {
		e.Meta = ZeroMeta(e.Kind.Family())
	}
	if e.Meta != nil && len(ConnectionsOf(e.Meta)) == 0 {
		e.Meta = WithConnections(e.Meta, nil)
	}
	return e
}

// Translate returns e displaced by (dx, dy).
func (e Element) Translate(dx, dy float64) Element {
	e.X += dx
	e.Y += dy
	return e
}

// References reports whether e is a connector touching id.
func (e Element) References(id string) bool {
	return e.Kind == KindConnector && (e.From == id || e.To == id)
}

// Clone returns a copy of e that shares no mutable state with it.
func (e Element) Clone() Element {
	if e.Width != nil {
		e.Width = Float(*e.Width)
	}
	if e.Height != nil {
		e.Height = Float(*e.Height)
	}
	if e.Rotation != nil {
		e.Rotation = Float(*e.Rotation)
	}
	switch m := e.Meta.(type) {
	case MediaMeta:
		m.Connections = cloneConnections(m.Connections)
		e.Meta = m
	case GeneratorMeta:
		m.Connections = cloneConnections(m.Connections)
		e.Meta = m
	case PluginMeta:
		m.Connections = cloneConnections(m.Connections)
		m.Settings = m.Settings.Clone()
		if m.Frames != nil {
			m.Frames = append([]string(nil), m.Frames...)
		}
		e.Meta = m
	}
	return e
}

func cloneConnections(c []Connection) []Connection {
	if c == nil {
		return nil
	}
	return append([]Connection(nil), c...)
}
