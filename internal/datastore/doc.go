// Package datastore implements the durable filesystem staging queue.
//
// Each staged item lives in its own directory under the store root, named by a
// store-assigned UUID. An item is built under a hidden ".tmp-" directory and
// published with a single no-replace rename, so enumeration observes it either
// fully present or absent. Removal renames the directory to a hidden ".trash-"
// name before deleting it. The per-item tracker file is rewritten atomically and
// its read-modify-write cycle is serialized across processes with a flock on
// tracker.lock.
//
// Item and Tracker values are read-through snapshots of the on-disk state; the
// files are always authoritative and may be reloaded at any time.
package datastore
