// Package harness runs canvas scenarios end to end and records their
// traces.
//
// A scenario is a YAML file naming a sequence of steps against one project:
// element operations, undo and redo, snapshot flushes, realtime messages
// and reopening the project with or without its final snapshot. Each step
// runs through the same session a client uses (op log, projector,
// persister, reconciler) over a fresh in-memory store.
//
// Every run produces a trace: one event per step with its outcome, the
// durable seq it was given and the element count per collection afterwards,
// plus the final elements in stacking order. Traces are encoded as
// canonical JSON and compared against golden files in testdata/golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
package harness
