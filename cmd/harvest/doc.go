// Command harvest manages collectors, runs collection passes, and inspects the
// staging store.
//
// `harvest run` starts the long-running daemon in the foreground; `harvest
// status` and `harvest logs` inspect it from another terminal. Item commands
// work directly on the store directory and are safe to use while the daemon
// runs.
package main
