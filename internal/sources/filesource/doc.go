// Package filesource reads collected objects from a directory of JSON Lines
// exports:
//
//	<dir>/samples/<sample type>.jsonl
//	<dir>/correlations/<correlation type>.jsonl
//	<dir>/activity.jsonl
//
// Exports are append-only. Sample and correlation cursors anchor on the
// number of complete lines already consumed; a trailing line without a
// newline is left for the next fetch. Activity cursors are the latest start
// date handed out; an activity appended later with that same start date is
// not read. Records dated before the collector's start date are dropped and
// do not count toward a batch.
package filesource
