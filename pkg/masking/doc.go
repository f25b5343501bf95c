// Package masking redacts actor private-env values wherever the daemon
// might otherwise surface them: structured logs, debug snapshots, and
// blueprint exports. Private env (secrets) is stored outside the ledger
// and must never leak back into it through any of these side
// channels.
package masking
