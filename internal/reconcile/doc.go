// Package reconcile orders the three sources of canvas state at startup
// and owns the lifecycle of an open project.
//
// Startup runs in a fixed order:
//  1. hydrate the latest snapshot document (persisted kinds)
//  2. replay op log history newer than the document's cursor
//  3. fold realtime messages, which are buffered until steps 1 and 2 finish
//
// Realtime init is authoritative only for the live run-progress fields of
// generator overlays and for overlays the snapshot does not hold. Media in
// an init payload is used only when no snapshot could be loaded.
package reconcile
