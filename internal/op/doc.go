// Package op defines canvas operations: atomic, invertible mutations of the
// element set and the wire format they travel in.
//
// Operations are built with the constructors in this package (or a Builder
// for deterministic IDs and timestamps). Every constructor computes the
// inverse from the element state it is given, so an undoable Operation
// without an inverse cannot be produced here. Operations decoded from the
// wire are checked with Decode before use.
//
// Pairing:
//   - create <-> delete (single element or batch)
//   - update <-> update carrying the pre-patch values of exactly the patched keys
//   - move <-> move with the negated delta
//   - snapshot has no inverse and is never undoable
package op
