// Package oplog implements the durable, undoable operation history of a
// project.
//
// ARCHITECTURE:
//
// Append, Undo and Redo apply their operation to the canvas state at once
// (optimistic) and enqueue it for persistence. A single writer goroutine,
// started with Run, drains the queue in FIFO order and writes each
// operation to the store. The caller gets a Receipt that resolves with the
// store-assigned sequence or the write error. Failed writes are never rolled
// back from local state.
//
// Undo is a forward operation: the inverse is persisted as a new entry with
// its own request id, so replay never rewinds the log.
//
// Replay applies stored history after hydration. Entries at or below the
// hydrated snapshot's sequence, or listed as pending in it, are skipped.
// A snapshot-shaped entry replaces the whole state.
package oplog
