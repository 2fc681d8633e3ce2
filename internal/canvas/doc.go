// Package canvas holds the per-project state container shared by the op
// log, the realtime channel and the snapshot store.
//
// A State is created when a project is opened and discarded on project
// switch. Every mutation goes through Apply, which runs the projector,
// swaps in the new collections, releases resource handles of removed
// elements and notifies subscribers of the collections that changed.
// Applies are serialized; observers run on the applying goroutine and must
// not call Apply themselves.
package canvas
