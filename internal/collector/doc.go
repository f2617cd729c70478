// Package collector models the resumable sources of a collection pass.
//
// A Collector is a tagged union over three variants: sample collectors read a
// single quantity or category type in a fixed unit, correlation collectors read
// a correlation type together with its component samples, and the activity
// collector reads motion activity records. Each collector carries a Cursor that
// marks how much of its source has already been consumed; sample and
// correlation sources resume from an opaque anchor, activity resumes from the
// last seen timestamp.
//
// Collectors never fetch on their own. They build a Query for a Source, and
// turn the returned objects into archival bytes and JSON-ready mappings.
package collector
