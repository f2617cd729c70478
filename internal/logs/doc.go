// Package logs tails the daemon log file for `harvest logs`.
//
// Last returns the final lines of a file along with the offset that follows
// them; Follow resumes from that offset and streams complete lines as they are
// appended, using fsnotify rather than polling. Truncation (log rotation or a
// restart with a fresh file) resets the offset to the start of the file.
package logs
