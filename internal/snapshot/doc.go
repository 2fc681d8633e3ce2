// Package snapshot serializes canvas collections into full documents and
// back.
//
// A document is a destructive-replace cache of the whole project. The op
// log remains the durable history; documents only let a session resume
// without replaying it from the start. Each document records the op log
// cursor it reflects so that replay after hydration applies only newer
// history.
//
// Writes are debounced by Persister: changes inside a quiet window coalesce
// into one write and identical documents are never written twice.
package snapshot
