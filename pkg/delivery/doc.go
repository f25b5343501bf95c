// Package delivery implements the daemon's Delivery & Automation Engine:
// addressee resolution and injection for chat.message commits, per-actor
// delivery throttling with digest coalescing, auto-mark-on-delivery,
// auto-wake of enabled-but-stopped actors, the built-in nudge policies, and
// the user-defined automation rule engine.
//
// The Engine is wired as the ledger's Publisher: every committed event passes
// through Engine.Publish before it reaches the bus, so the kernel projection
// and the engine's own delivery bookkeeping are always one commit ahead of
// anything a subscriber observes. This assumes a single caller drives
// Publish for a given runtime home (the ledger store's per-group mutex
// already serializes commits to one group; Publish across groups may
// interleave freely since all engine state is keyed by group_id/actor_id).
package delivery
