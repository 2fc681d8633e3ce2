// Package store provides SQLite-backed durable storage for canvas projects.
//
// Two tables back the sync engine:
//   - operations: the append-only op log, one row per operation
//   - snapshots: the current full document of each project
//
// # Critical Patterns
//
// Request-level idempotency:
//   - UNIQUE(project_id, request_id) with ON CONFLICT DO NOTHING
//   - a retried append returns the sequence of the first write
//
// Logical ordering:
//   - seq INTEGER is assigned by the store and strictly increases
//   - reads use ORDER BY seq ASC, never timestamps
//
// Canonical payloads:
//   - operations and documents are stored as RFC 8785 canonical JSON
//   - content hashes use domain separation (see internal/value)
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
