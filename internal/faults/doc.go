// Package faults defines the error taxonomy shared by the staging store and
// the collection manager.
//
// Every failure surfaced by harvest carries one of four markers:
//   - ErrValidation for malformed construction parameters or arguments.
//   - ErrIO for filesystem and database operations that failed.
//   - ErrNotFound when an operation references an identifier that does not exist.
//   - ErrConflict when an identifier collides with an existing one.
//
// Build errors with Wrap so callers can match both the marker and the
// underlying cause with errors.Is, and use Kind when a stable string is needed
// for logs or CLI output.
package faults
