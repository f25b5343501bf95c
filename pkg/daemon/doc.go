// Package daemon wires the kernel projection, ledger store, runner
// supervisor, delivery & automation engine, and notification bus into the
// single long-lived daemon process, and exposes the
// mutation surface pkg/ipc dispatches onto. It owns startup (restoring
// every group from its ledger), per-group mutation ordering, and graceful
// shutdown.
package daemon
