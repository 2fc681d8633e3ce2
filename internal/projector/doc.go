// Package projector implements the pure reducer from (collections, event)
// to the next collections.
//
// Collections hold elements routed by kind into typed, ordered slices.
// Project never mutates its input: unchanged collections are shared with the
// result and changed ones are rebuilt. The result reports which collections
// changed and which transient resource handles the caller must release.
//
// Rules:
//   - snapshot: destructive replace; remote media URLs are rewritten through the local proxy
//   - create: no-op when the id already exists in any collection
//   - update: patch merged into the element, meta one level deep
//   - delete: removes targets everywhere and cascades to connectors touching them
//   - move: relative displacement of positioned elements
//   - unknown ids in update/delete/move are ignored
package projector
