// Package ir holds the types shared by every other tempo package: variable
// values, wait-point records, compiled process definitions and history events.
//
// ir imports nothing internal, so it stays the foundation layer with no
// import cycles.
//
// Constraints:
//   - no float variables; numbers are int64
//   - canonical JSON (RFC 8785 ordering, NFC strings) for digests and goldens
//   - JSON tags are snake_case
package ir
