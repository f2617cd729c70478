// Package daemon coordinates the long-running harvest process.
//
// It wires the collection manager, the staging store, and the optional drain
// into a single lifecycle with flock-based locking so two daemons never run
// passes against the same collection database. Periodic work (passive
// collection passes, stale temp cleanup, draining) is scheduled with gocron;
// items published by other processes are picked up through the store watcher.
//
// When metrics are enabled the same listener serves /metrics, /healthz, and a
// small JSON API under /api (status, collectors, items, and triggers for a
// collection pass or drain), optionally guarded by a bearer token.
//
// Keep orchestration logic here: collection, staging, and delivery semantics
// live in their own packages while the daemon focuses on startup, shutdown,
// and high level coordination.
package daemon
