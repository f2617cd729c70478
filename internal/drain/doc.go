// Package drain delivers staged items to a Sink and records the outcome on
// each item's tracker.
//
// A drain enumerates items that are not yet uploaded, fewest retries first,
// and hands each to the Sink. Success marks the item uploaded (and optionally
// removes it); failure increments its retry count. Items whose retry count has
// reached the configured maximum are left alone until an operator intervenes.
package drain
