// Package bus is the daemon's in-process notification fan-out: the delivery
// engine forwards every event the ledger commits here, and ipc subscribers
// consume it from here. There is exactly one Bus per
// daemon process; it never crosses a process boundary (CCCC is explicitly
// single-host, so there is no external broker to wire).
package bus
