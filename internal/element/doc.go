// Package element defines the canvas entity model: the closed set of element
// kinds, their meta variants, connectors, partial-update patches and the
// snapshot document shape.
//
// The package is pure data plus the transforms that keep it consistent
// (patch application, inverse capture, translation). It performs no I/O.
//
// Invariants:
//   - ID is unique across all kinds within a project
//   - an element without an ID is never written to a snapshot
//   - Meta is always the variant matching Kind.Family()
//   - connectors carry From and To; no other kind does
package element
