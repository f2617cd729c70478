// Package fileutil holds the filesystem primitives the staging store relies
// on: verified copies, atomic file replacement, no-replace renames, and moves
// that survive crossing a filesystem boundary.
package fileutil
