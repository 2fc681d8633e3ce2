// Package value provides the sealed JSON value type used for element patches
// and the canonical encoding used for durable payloads.
//
// This package imports nothing internal. Element, operation and snapshot
// packages build on it; it never builds on them.
//
// Key constraints:
//   - Value is sealed: only Null, String, Int, Float, Bool, Array and Object implement it
//   - Integral JSON numbers decode to Int, everything else to Float
//   - Null is meaningful in patches: it clears an optional field or meta key
//   - Canonical output follows RFC 8785 (UTF-16 key order, no HTML escaping, NFC strings)
package value
