// Package collection owns the collectors that share one persistence root and
// runs collection passes over them.
//
// A Manager keeps its collectors, in registration order, in a SQLite database
// under the root. Each pass asks the Source for objects newer than every
// collector's cursor, hands non-empty batches to the Observer, and persists the
// advanced cursor only after the Observer reports the batch as stored. A batch
// the Observer rejects leaves the cursor where it was, so the next pass fetches
// the same range again.
//
// RunPassiveCollectionPass is the only asynchronous entry point. Requests that
// arrive while a pass is running collapse into a single follow-up pass.
package collection
