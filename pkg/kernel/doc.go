// Package kernel is the daemon's in-memory projection over the ledger: the
// live view of groups, actors, read cursors, and outstanding obligations
// that every other subsystem (delivery, runner supervisor, ipc) reads
// instead of re-scanning disk. A Kernel is rebuilt deterministically by
// replaying a group's events in order; it holds no state the ledger cannot
// reproduce.
package kernel
