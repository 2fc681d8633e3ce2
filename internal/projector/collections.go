package projector

import (
	"reflect"
	"slices"

	"github.com/roach88/canvasync/internal/element"
)

// Collection names a typed element collection.
type Collection string

const (
	Images     Collection = "images"
	Videos     Collection = "videos"
	Texts      Collection = "texts"
	Models     Collection = "models"
	Generators Collection = "generators"
	Plugins    Collection = "plugins"
	Connectors Collection = "connectors"
)

// AllCollections lists every collection in stacking order.
var AllCollections = []Collection{Images, Videos, Texts, Models, Generators, Plugins, Connectors}

// CollectionFor routes a kind to its collection.
func CollectionFor(k element.Kind) Collection {
	switch k {
	case element.KindImage:
		return Images
	case element.KindVideo:
		return Videos
	case element.KindText:
		return Texts
	case element.KindModel:
		return Models
	}
	switch k.Family() {
	case element.FamilyGenerator:
		return Generators
	case element.FamilyPlugin:
		return Plugins
	case element.FamilyConnector:
		return Connectors
	}
	return ""
}

// Collections is the typed in-memory projection of a project. Empty
// collections are absent from the map. Treat values as immutable.
type Collections map[Collection][]element.Element

// NewCollections routes elems into collections, keeping their order.
// Elements without an id or with an unknown kind are dropped; later
// duplicates of an id are ignored.
func NewCollections(elems ...element.Element) Collections {
	c := Collections{}
	seen := make(map[string]bool, len(elems))
	for _, e := range elems {
		name := CollectionFor(e.Kind)
		if e.ID == "" || name == "" || seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		c[name] = append(c[name], e.Normalize())
	}
	return c
}

// Get returns the elements of one collection.
func (c Collections) Get(name Collection) []element.Element {
	return c[name]
}

// Find locates id in any collection.
func (c Collections) Find(id string) (element.Element, Collection, bool) {
	for _, name := range AllCollections {
		for _, e := range c[name] {
			if e.ID == id {
				return e, name, true
			}
		}
	}
	return element.Element{}, "", false
}

// Has reports whether id exists in any collection.
func (c Collections) Has(id string) bool {
	_, _, ok := c.Find(id)
	return ok
}

// All returns every element in stacking order.
func (c Collections) All() []element.Element {
	out := make([]element.Element, 0, c.Len())
	for _, name := range AllCollections {
		out = append(out, c[name]...)
	}
	return out
}

// Len returns the total element count.
func (c Collections) Len() int {
	n := 0
	for _, elems := range c {
		n += len(elems)
	}
	return n
}

// Counts returns the element count per non-empty collection.
func (c Collections) Counts() map[Collection]int {
	out := make(map[Collection]int, len(c))
	for name, elems := range c {
		if len(elems) > 0 {
			out[name] = len(elems)
		}
	}
	return out
}

// clone returns a shallow copy of the map; slices are shared.
func (c Collections) clone() Collections {
	out := make(Collections, len(c))
	for name, elems := range c {
		out[name] = elems
	}
	return out
}

func (c Collections) set(name Collection, elems []element.Element) {
	if len(elems) == 0 {
		delete(c, name)
		return
	}
	c[name] = elems
}

// Equal reports whether a and b hold the same elements in each collection.
// Order within a collection is not compared: undo of a delete re-creates
// elements on top.
func Equal(a, b Collections) bool {
	for _, name := range AllCollections {
		x, y := sortedByID(a[name]), sortedByID(b[name])
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !sameElement(x[i], y[i]) {
				return false
			}
		}
	}
	return true
}

func sortedByID(elems []element.Element) []element.Element {
	out := slices.Clone(elems)
	slices.SortFunc(out, func(a, b element.Element) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

func sameElement(a, b element.Element) bool {
	a, b = a.Normalize(), b.Normalize()
	a.Resource, b.Resource = "", ""
	return reflect.DeepEqual(a, b)
}
