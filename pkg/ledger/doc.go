// Package ledger is the daemon's sole mutator of on-disk group state: the
// per-group append-only event log (ledger.jsonl) and the content-addressed
// blob store. Exactly one writer ever holds a group's ledger lock; readers
// use independent file handles and never observe a partial line.
package ledger
