package daemon

import (
	"context"
	"fmt"

	"github.com/cccc-dev/cccc/pkg/contracts"
)

// DebugSnapshot is the payload returned by the debug_snapshot operation:
// a point-in-time dump of a group's projection plus its connected
// subscriber count, useful for filing a bug report without handing over
// the raw ledger.
type DebugSnapshot struct {
	GroupID     string                 `json:"group_id"`
	Title       string                 `json:"title"`
	State       contracts.GroupState   `json:"state"`
	LastEventID contracts.EventID      `json:"last_event_id"`
	ActorCount  int                    `json:"actor_count"`
	Subscribers int                    `json:"subscribers"`
	Actors      map[string]ActorStatusView `json:"actors"`
}

// ActorStatusView is one actor's entry in a DebugSnapshot.
type ActorStatusView struct {
	Role           contracts.Role `json:"role"`
	LifecycleState string         `json:"lifecycle_state"`
	Obligations    int            `json:"open_obligations"`
	PendingAcks    int            `json:"open_pending_acks"`
}

// Snapshot builds a DebugSnapshot for groupID.
func (d *Daemon) Snapshot(ctx context.Context, groupID string) (DebugSnapshot, error) {
	view := d.Kernel.Group(groupID)
	if view == nil {
		return DebugSnapshot{}, contracts.NewDomainError(contracts.CodeNoSuchGroup, "no such group", map[string]interface{}{"group_id": groupID})
	}
	actors := make(map[string]ActorStatusView, len(view.Actors))
	for id, a := range view.Actors {
		actors[id] = ActorStatusView{
			Role:           a.Role,
			LifecycleState: a.LifecycleState,
			Obligations:    len(a.Obligations),
			PendingAcks:    len(a.PendingAck),
		}
	}
	return DebugSnapshot{
		GroupID:     groupID,
		Title:       view.Title,
		State:       view.State,
		LastEventID: view.LastEventID,
		ActorCount:  len(view.Actors),
		Subscribers: d.Bus.SubscriberCount(groupID),
		Actors:      actors,
	}, nil
}

// Compact requests compaction of groupID's ledger up to upTo, only ever
// operator- or confirmed-rule-action-triggered, never automatic. The
// rewrite itself is unbounded work and runs
// outside d.lockGroup: the ledger's own per-group write lock
// (groupLedger.mu in pkg/ledger) already serializes Compact against
// concurrent Append calls for this group_id, so other mutations to this
// group are not blocked for the duration of the file rewrite. Only the
// final step — swapping the freshly rebuilt projection into the kernel —
// runs under d.lockGroup, so that swap is atomic with respect to any other
// daemon mutation touching this group's projection.
func (d *Daemon) Compact(ctx context.Context, principal contracts.Principal, groupID string, upTo contracts.EventID) error {
	if err := requireUser(principal); err != nil {
		return err
	}

	snap, ok := d.Kernel.ExportSnapshot(groupID)
	if !ok {
		return contracts.NewDomainError(contracts.CodeNoSuchGroup, "no such group", map[string]interface{}{"group_id": groupID})
	}
	if err := d.Ledger.Compact(groupID, upTo, snap); err != nil {
		return fmt.Errorf("compact: %w", err)
	}

	events, err := d.readAllEvents(groupID)
	if err != nil {
		return fmt.Errorf("reload compacted ledger: %w", err)
	}

	unlock := d.lockGroup(groupID)
	d.Kernel.RebuildWithCache(d.KernelCache, groupID, events)
	unlock()
	return nil
}
