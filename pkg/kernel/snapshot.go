package kernel

import "github.com/cccc-dev/cccc/pkg/contracts"

// ExportSnapshot renders groupID's current projection as the opaque payload
// ledger.Store.Compact embeds in a synthetic snapshot event. Returns false
// if the group is not currently loaded.
func (k *Kernel) ExportSnapshot(groupID string) (Snapshot, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	view, ok := k.groups[groupID]
	if !ok {
		return Snapshot{}, false
	}

	actors := make(map[string]ActorSummary, len(view.Actors))
	for id, a := range view.Actors {
		actors[id] = ActorSummary{
			Role:           a.Role,
			Runtime:        a.Runtime,
			Runner:         a.Runner,
			Command:        a.Command,
			Enabled:        a.Enabled,
			Profile:        a.Profile,
			LifecycleState: a.LifecycleState,
			ReadCursor:     a.ReadCursor,
			PendingAck:     keysOf(a.PendingAck),
			Obligations:    keysOf(a.Obligations),
			Seq:            a.seq,
		}
	}

	scopes := make(map[string]string, len(view.Scopes))
	for scopeKey, path := range view.Scopes {
		scopes[scopeKey] = path
	}

	return Snapshot{
		Title:          view.Title,
		Topic:          view.Topic,
		State:          view.State,
		Scopes:         scopes,
		Settings:       view.Settings,
		Automation:     view.Automation,
		Actors:         actors,
		UserReadCursor: view.UserReadCursor,
	}, true
}

// RestoreSnapshot seeds a fresh GroupView from a previously exported
// Snapshot, used when a group's ledger begins with a `snapshot` event
// (i.e. it was compacted) rather than a `group.create`.
func RestoreSnapshot(groupID string, snap Snapshot) *GroupView {
	view := newGroupView(groupID)
	view.Title = snap.Title
	view.Topic = snap.Topic
	view.State = snap.State
	for k, v := range snap.Scopes {
		view.Scopes[k] = v
	}
	view.Settings = snap.Settings
	view.Automation = snap.Automation
	view.UserReadCursor = snap.UserReadCursor
	for id, summary := range snap.Actors {
		a := &ActorView{
			ActorID:        id,
			Role:           summary.Role,
			Runtime:        summary.Runtime,
			Runner:         summary.Runner,
			Command:        summary.Command,
			Enabled:        summary.Enabled,
			Profile:        summary.Profile,
			LifecycleState: summary.LifecycleState,
			ReadCursor:     summary.ReadCursor,
			PendingAck:     make(map[contracts.EventID]bool),
			Obligations:    make(map[contracts.EventID]bool),
			seq:            summary.Seq,
		}
		for _, id := range summary.PendingAck {
			a.PendingAck[id] = true
		}
		for _, id := range summary.Obligations {
			a.Obligations[id] = true
		}
		view.Actors[id] = a
		if summary.Seq >= view.nextActorSeq {
			view.nextActorSeq = summary.Seq + 1
		}
	}
	return view
}

func keysOf(m map[contracts.EventID]bool) []contracts.EventID {
	if len(m) == 0 {
		return nil
	}
	out := make([]contracts.EventID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}
