package element

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/canvasync/internal/value"
)

// Meta is the kind-specific payload of an element. It is sealed: only the
// variants in this file implement it.
type Meta interface {
	Family() Family
	isMeta()
}

// Connection is the nested form of a connector, kept under the source
// element's meta for consumers that predate first-class connectors.
type Connection struct {
	ID         string `json:"id"`
	To         string `json:"to"`
	Color      string `json:"color,omitempty"`
	FromAnchor string `json:"fromAnchor,omitempty"`
	ToAnchor   string `json:"toAnchor,omitempty"`
}

// MediaMeta describes uploaded or generated media.
type MediaMeta struct {
	URL          string       `json:"url,omitempty"`
	ThumbnailURL string       `json:"thumbnailUrl,omitempty"`
	MimeType     string       `json:"mimeType,omitempty"`
	Text         string       `json:"text,omitempty"`
	Model        string       `json:"model,omitempty"`
	Prompt       string       `json:"prompt,omitempty"`
	Duration     float64      `json:"duration,omitempty"`
	Connections  []Connection `json:"connections,omitempty"`
}

func (MediaMeta) Family() Family { return FamilyMedia }
func (MediaMeta) isMeta()        {}

// GeneratorMeta describes a generator node and its current run.
type GeneratorMeta struct {
	Prompt      string       `json:"prompt,omitempty"`
	Model       string       `json:"model,omitempty"`
	AspectRatio string       `json:"aspectRatio,omitempty"`
	Seed        int64        `json:"seed,omitempty"`
	Status      Status       `json:"status,omitempty"`
	Progress    int          `json:"progress,omitempty"`
	Error       string       `json:"error,omitempty"`
	ResultURL   string       `json:"resultUrl,omitempty"`
	Connections []Connection `json:"connections,omitempty"`
}

func (GeneratorMeta) Family() Family { return FamilyGenerator }
func (GeneratorMeta) isMeta()        {}

// PluginMeta describes a transform applied to a source element.
type PluginMeta struct {
	SourceID    string       `json:"sourceId,omitempty"`
	Prompt      string       `json:"prompt,omitempty"`
	Settings    value.Object `json:"settings,omitempty"`
	Frames      []string     `json:"frames,omitempty"`
	Status      Status       `json:"status,omitempty"`
	Progress    int          `json:"progress,omitempty"`
	Error       string       `json:"error,omitempty"`
	ResultURL   string       `json:"resultUrl,omitempty"`
	Connections []Connection `json:"connections,omitempty"`
}

func (PluginMeta) Family() Family { return FamilyPlugin }
func (PluginMeta) isMeta()        {}

// ConnectorMeta carries the presentation of a connector edge.
type ConnectorMeta struct {
	Color      string `json:"color,omitempty"`
	FromAnchor string `json:"fromAnchor,omitempty"`
	ToAnchor   string `json:"toAnchor,omitempty"`
}

func (ConnectorMeta) Family() Family { return FamilyConnector }
func (ConnectorMeta) isMeta()        {}

// ZeroMeta returns the empty variant for a family.
func ZeroMeta(f Family) Meta {
	switch f {
	case FamilyMedia:
		return MediaMeta{}
	case FamilyGenerator:
		return GeneratorMeta{}
	case FamilyPlugin:
		return PluginMeta{}
	case FamilyConnector:
		return ConnectorMeta{}
	default:
		return nil
	}
}

// DecodeMeta parses raw JSON into the variant for f. Unknown keys are
// ignored so that documents written by newer clients still load.
func DecodeMeta(f Family, raw []byte) (Meta, error) {
	return decodeMeta(f, raw, false)
}

func decodeMeta(f Family, raw []byte, strict bool) (Meta, error) {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if strict {
		dec.DisallowUnknownFields()
	}
	var err error
	switch f {
	case FamilyMedia:
		var m MediaMeta
		err = dec.Decode(&m)
		return m, wrapMetaErr(f, err)
	case FamilyGenerator:
		var m GeneratorMeta
		err = dec.Decode(&m)
		return m, wrapMetaErr(f, err)
	case FamilyPlugin:
		var m PluginMeta
		err = dec.Decode(&m)
		return m, wrapMetaErr(f, err)
	case FamilyConnector:
		var m ConnectorMeta
		err = dec.Decode(&m)
		return m, wrapMetaErr(f, err)
	default:
		return nil, fmt.Errorf("decode meta: unknown family %s", f)
	}
}

func wrapMetaErr(f Family, err error) error {
	if err != nil {
		return fmt.Errorf("decode %s meta: %w", f, err)
	}
	return nil
}

// metaObject returns the patchable object form of m.
func metaObject(m Meta) (value.Object, error) {
	if m == nil {
		return value.Object{}, nil
	}
	return value.ObjectOf(m)
}

// ConnectionsOf returns the nested connections held by m, if any.
func ConnectionsOf(m Meta) []Connection {
	switch v := m.(type) {
	case MediaMeta:
		return v.Connections
	case GeneratorMeta:
		return v.Connections
	case PluginMeta:
		return v.Connections
	default:
		return nil
	}
}

// WithConnections returns m with its nested connections replaced. Connector
// meta has no nested form and is returned unchanged.
func WithConnections(m Meta, conns []Connection) Meta {
	if len(conns) == 0 {
		conns = nil
	}
	switch v := m.(type) {
	case MediaMeta:
		v.Connections = conns
		return v
	case GeneratorMeta:
		v.Connections = conns
		return v
	case PluginMeta:
		v.Connections = conns
		return v
	default:
		return m
	}
}

// MergeEphemeral copies live run-progress fields from a realtime overlay onto
// a persisted generator or plugin element. Persisted fields (prompt, model,
// settings, position) are left alone. A blank live field never replaces a
// persisted one. Status, error and result URL are taken from the live copy
// only while that run is still in flight or when nothing is persisted.
func MergeEphemeral(persisted, live Element) Element {
	switch p := persisted.Meta.(type) {
	case GeneratorMeta:
		l, ok := live.Meta.(GeneratorMeta)
		if !ok {
			return persisted
		}
		mergeRun(&p.Status, &p.Progress, &p.Error, &p.ResultURL, l.Status, l.Progress, l.Error, l.ResultURL)
		persisted.Meta = p
	case PluginMeta:
		l, ok := live.Meta.(PluginMeta)
		if !ok {
			return persisted
		}
		mergeRun(&p.Status, &p.Progress, &p.Error, &p.ResultURL, l.Status, l.Progress, l.Error, l.ResultURL)
		persisted.Meta = p
	}
	return persisted
}

func mergeRun(status *Status, progress *int, errMsg, result *string, ls Status, lp int, le, lr string) {
	live := ls.InFlight()
	if ls != "" && (live || *status == "") {
		*status = ls
		*errMsg = le
	}
	if lp != 0 && (live || *progress == 0) {
		*progress = lp
	}
	if lr != "" && (live || *result == "") {
		*result = lr
	}
}
