package projector

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/roach88/canvasync/internal/element"
	"github.com/roach88/canvasync/internal/op"
)

// Event is an operation, a snapshot document or a whole-element replace.
type Event struct {
	Op       *op.Operation
	Document *element.Document
	Replace  *element.Element
}

// OpEvent wraps an operation. Snapshot operations project as snapshots.
func OpEvent(o op.Operation) Event {
	return Event{Op: &o}
}

// SnapshotEvent wraps a snapshot document.
func SnapshotEvent(doc element.Document) Event {
	return Event{Document: &doc}
}

// ReplaceEvent swaps the element sharing e's id for e. Unknown ids are
// ignored. Realtime overlays use it; it never enters the op log.
func ReplaceEvent(e element.Element) Event {
	return Event{Replace: &e}
}

// Result is the outcome of one projection.
type Result struct {
	// Collections is the next state.
	Collections Collections

	// Changed lists the collections that differ from the input, in
	// stacking order.
	Changed []Collection

	// Released holds transient resource handles of removed elements.
	Released []string
}

// Projector applies events to collections. The zero value projects without
// URL rewriting.
type Projector struct {
	proxy *Proxy
}

// Option configures a Projector.
type Option func(*Projector)

// WithProxy enables media URL rewriting on snapshot events.
func WithProxy(p *Proxy) Option {
	return func(pr *Projector) {
		pr.proxy = p
	}
}

// New returns a Projector.
func New(opts ...Option) *Projector {
	p := &Projector{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Project computes the collections after ev. The input is not modified.
// An error means the event could not be applied and nothing changed.
func (p *Projector) Project(c Collections, ev Event) (Result, error) {
	switch {
	case ev.Document != nil:
		return p.snapshot(c, *ev.Document), nil
	case ev.Replace != nil:
		return p.replace(c, *ev.Replace)
	case ev.Op == nil:
		return Result{Collections: c}, nil
	}
	o := *ev.Op
	if o.IsSnapshot() {
		return p.snapshot(c, o.Document()), nil
	}
	switch o.Type {
	case op.TypeCreate:
		return p.create(c, o), nil
	case op.TypeUpdate:
		return p.update(c, o)
	case op.TypeDelete:
		return p.delete(c, o), nil
	case op.TypeMove:
		return p.move(c, o)
	}
	return Result{Collections: c}, fmt.Errorf("project %s: unknown operation type %q", o.RequestID, o.Type)
}

// Project applies ev with a zero Projector.
func Project(c Collections, ev Event) (Result, error) {
	var p Projector
	return p.Project(c, ev)
}

func (p *Projector) snapshot(prev Collections, doc element.Document) Result {
	ordered := doc.Ordered()
	standalone := make(map[string]bool)
	for _, e := range ordered {
		if e.Kind == element.KindConnector {
			standalone[e.ID] = true
		}
	}
	elems := make([]element.Element, 0, len(ordered))
	for _, e := range ordered {
		e = p.proxy.RewriteElement(e.Normalize())
		flat, legacy := Flatten(e, standalone)
		elems = append(elems, flat)
		elems = append(elems, legacy...)
	}
	next := NewCollections(elems...)

	res := Result{Collections: next}
	for _, name := range AllCollections {
		if !sameSlice(prev[name], next[name]) {
			res.Changed = append(res.Changed, name)
		}
	}
	for _, e := range prev.All() {
		if e.Resource != "" {
			res.Released = append(res.Released, e.Resource)
		}
	}
	return res
}

// Flatten strips nested connections from e and returns connector elements
// for those whose id is not already held as a standalone connector.
func Flatten(e element.Element, standalone map[string]bool) (element.Element, []element.Element) {
	conns := element.ConnectionsOf(e.Meta)
	if len(conns) == 0 {
		return e, nil
	}
	e.Meta = element.WithConnections(e.Meta, nil)
	var legacy []element.Element
	for _, conn := range conns {
		if conn.To == "" {
			continue
		}
		id := conn.ID
		if id == "" {
			id = e.ID + "->" + conn.To
		}
		if standalone[id] {
			continue
		}
		standalone[id] = true
		legacy = append(legacy, element.Element{
			ID:   id,
			Kind: element.KindConnector,
			From: e.ID,
			To:   conn.To,
			Meta: element.ConnectorMeta{Color: conn.Color, FromAnchor: conn.FromAnchor, ToAnchor: conn.ToAnchor},
		})
	}
	return e, legacy
}

func (p *Projector) create(c Collections, o op.Operation) Result {
	elems := o.Data.Batch
	if o.Data.Element != nil {
		elems = []element.Element{*o.Data.Element}
	}
	next := c.clone()
	standalone := make(map[string]bool)
	for _, e := range c[Connectors] {
		standalone[e.ID] = true
	}
	var changed []Collection
	insert := func(e element.Element) {
		name := CollectionFor(e.Kind)
		if e.ID == "" || name == "" || next.Has(e.ID) {
			return
		}
		next[name] = append(slices.Clip(next[name]), e)
		if !slices.Contains(changed, name) {
			changed = append(changed, name)
		}
	}
	for _, e := range elems {
		flat, legacy := Flatten(e.Normalize(), standalone)
		insert(flat)
		for _, l := range legacy {
			insert(l)
		}
	}
	return Result{Collections: next, Changed: inOrder(changed)}
}

func (p *Projector) update(c Collections, o op.Operation) (Result, error) {
	cur, name, ok := c.Find(o.ElementID)
	if !ok {
		return Result{Collections: c}, nil
	}
	patched, err := cur.Apply(o.Data.Updates)
	if err != nil {
		return Result{Collections: c}, fmt.Errorf("project %s: %w", o.RequestID, err)
	}
	next := c.clone()
	next[name] = replace(c[name], patched)
	return Result{Collections: next, Changed: []Collection{name}}, nil
}

func (p *Projector) delete(c Collections, o op.Operation) Result {
	targets := make(map[string]bool)
	for _, id := range o.Targets() {
		targets[id] = true
	}
	next := c.clone()
	res := Result{Collections: next}
	for _, name := range AllCollections {
		elems := c[name]
		kept := make([]element.Element, 0, len(elems))
		for _, e := range elems {
			if targets[e.ID] || (e.Kind == element.KindConnector && (targets[e.From] || targets[e.To])) {
				if e.Resource != "" {
					res.Released = append(res.Released, e.Resource)
				}
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) != len(elems) {
			next.set(name, kept)
			res.Changed = append(res.Changed, name)
		}
	}
	return res
}

func (p *Projector) replace(c Collections, e element.Element) (Result, error) {
	e = e.Normalize()
	if err := e.Validate(); err != nil {
		return Result{Collections: c}, fmt.Errorf("project replace: %w", err)
	}
	cur, from, ok := c.Find(e.ID)
	if !ok {
		return Result{Collections: c}, nil
	}
	e.Meta = element.WithConnections(e.Meta, nil)
	e.Resource = cur.Resource
	if reflect.DeepEqual(cur, e) {
		return Result{Collections: c}, nil
	}
	next := c.clone()
	to := CollectionFor(e.Kind)
	if to == from {
		next[from] = replace(c[from], e)
		return Result{Collections: next, Changed: []Collection{from}}, nil
	}
	kept := make([]element.Element, 0, len(c[from]))
	for _, x := range c[from] {
		if x.ID != e.ID {
			kept = append(kept, x)
		}
	}
	next.set(from, kept)
	next[to] = append(slices.Clip(next[to]), e)
	return Result{Collections: next, Changed: inOrder([]Collection{from, to})}, nil
}

func (p *Projector) move(c Collections, o op.Operation) (Result, error) {
	if o.Data.Delta == nil {
		return Result{Collections: c}, fmt.Errorf("project %s: move without delta", o.RequestID)
	}
	d := *o.Data.Delta
	next := c.clone()
	res := Result{Collections: next}
	for _, name := range AllCollections {
		for _, e := range c[name] {
			if e.ID != o.ElementID || !e.Kind.Positioned() {
				continue
			}
			next[name] = replace(next[name], e.Translate(d.X, d.Y))
			res.Changed = append(res.Changed, name)
		}
	}
	return res, nil
}

// replace returns a copy of elems with the element sharing e's id swapped
// for e.
func replace(elems []element.Element, e element.Element) []element.Element {
	out := slices.Clone(elems)
	for i := range out {
		if out[i].ID == e.ID {
			out[i] = e
		}
	}
	return out
}

func inOrder(names []Collection) []Collection {
	if len(names) == 0 {
		return nil
	}
	out := make([]Collection, 0, len(names))
	for _, name := range AllCollections {
		if slices.Contains(names, name) {
			out = append(out, name)
		}
	}
	return out
}

func sameSlice(a, b []element.Element) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !reflect.DeepEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}
