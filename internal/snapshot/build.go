package snapshot

import (
	"github.com/roach88/canvasync/internal/canvas"
	"github.com/roach88/canvasync/internal/element"
	"github.com/roach88/canvasync/internal/projector"
	"github.com/roach88/canvasync/internal/value"
)

// Build returns the document for c. Elements without an id are skipped.
// Connectors are written both as standalone elements and nested under their
// source element's meta.connections.
func Build(c projector.Collections, seq int64, pending []string) element.Document {
	doc := element.NewDocument()
	doc.Metadata.Seq = seq
	if len(pending) > 0 {
		doc.Metadata.Pending = append([]string(nil), pending...)
	}

	all := c.All()
	for _, e := range all {
		if e.ID == "" {
			continue
		}
		if _, dup := doc.Elements[e.ID]; dup {
			continue
		}
		e = e.Normalize()
		e.Resource = ""
		doc.Elements[e.ID] = e
		doc.Metadata.Order = append(doc.Metadata.Order, e.ID)
	}

	nested := make(map[string][]element.Connection)
	for _, e := range all {
		if e.Kind != element.KindConnector || e.ID == "" || e.From == "" {
			continue
		}
		if _, ok := doc.Elements[e.From]; !ok {
			continue
		}
		conn := element.Connection{ID: e.ID, To: e.To}
		if m, ok := e.Meta.(element.ConnectorMeta); ok {
			conn.Color, conn.FromAnchor, conn.ToAnchor = m.Color, m.FromAnchor, m.ToAnchor
		}
		nested[e.From] = append(nested[e.From], conn)
	}
	for id, conns := range nested {
		src := doc.Elements[id]
		src.Meta = element.WithConnections(src.Meta, conns)
		doc.Elements[id] = src
	}
	return doc
}

// FromView builds the document for a consistent view of a canvas.
func FromView(v canvas.View) element.Document {
	return Build(v.Collections, v.Seq, v.Pending)
}

// Hash returns the content hash of doc's canonical encoding.
func Hash(doc element.Document) (string, error) {
	return value.Hash(value.DomainSnapshot, doc)
}
