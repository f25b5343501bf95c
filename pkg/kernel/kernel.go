package kernel

import (
	"log/slog"
	"sync"

	"github.com/cccc-dev/cccc/pkg/contracts"
)

// Kernel holds the live projection for every group currently loaded. It is
// the single in-memory source of truth the delivery engine, runner
// supervisor, and ipc layer query against; every field it exposes can be
// recomputed from the ledger alone.
type Kernel struct {
	mu     sync.RWMutex
	groups map[string]*GroupView
}

// New constructs an empty Kernel. Groups are populated by Rebuild as each
// group's ledger is opened.
func New() *Kernel {
	return &Kernel{groups: make(map[string]*GroupView)}
}

// Rebuild replays events (expected in ascending id order for a single
// group) into a fresh GroupView, replacing whatever projection previously
// existed for that group_id. Called at startup for every group on disk,
// and again after a Compact to fold in the new snapshot baseline.
func (k *Kernel) Rebuild(groupID string, events []contracts.Event) *GroupView {
	var view *GroupView
	rest := events
	if len(events) > 0 && events[0].Kind == contracts.KindSnapshot {
		var snap Snapshot
		if err := events[0].Decode(&snap); err == nil {
			view = RestoreSnapshot(groupID, snap)
			view.LastEventID = events[0].ID
			rest = events[1:]
		}
	}
	if view == nil {
		view = newGroupView(groupID)
	}
	for _, evt := range rest {
		applyTo(view, evt)
	}

	k.mu.Lock()
	k.groups[groupID] = view
	k.mu.Unlock()
	return view
}

// Apply folds one freshly committed event into its group's live projection.
// It is the hot path: called synchronously right after the ledger's
// publish, before the delivery engine is notified.
func (k *Kernel) Apply(evt contracts.Event) {
	k.mu.Lock()
	defer k.mu.Unlock()

	view, ok := k.groups[evt.GroupID]
	if !ok {
		view = newGroupView(evt.GroupID)
		k.groups[evt.GroupID] = view
	}
	applyTo(view, evt)
}

// Group returns a read-only snapshot of a group's view, or nil if unknown.
// Callers must not mutate the returned pointer's maps; View exists for
// read paths (ipc queries, delivery's addressee resolution) that need a
// consistent look at the full projection under one lock acquisition.
func (k *Kernel) Group(groupID string) *GroupView {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.groups[groupID]
}

// Groups returns every group_id currently projected, for listing.
func (k *Kernel) Groups() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	ids := make([]string, 0, len(k.groups))
	for id := range k.groups {
		ids = append(ids, id)
	}
	return ids
}

// CheckAutomationVersion validates an optimistic-concurrency update against
// the live ruleset version for groupID: a mismatch fails with
// version_conflict. A not-yet-loaded group is treated as version 0.
func (k *Kernel) CheckAutomationVersion(groupID string, expected int) error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	current := 0
	if view, ok := k.groups[groupID]; ok {
		current = view.Automation.Version
	}
	if current != expected {
		return contracts.NewDomainError(contracts.CodeVersionConflict, "automation ruleset version mismatch", map[string]interface{}{
			"expected_version": expected,
			"current_version":  current,
		})
	}
	return nil
}

// applyTo is the deterministic, total projection function: every known
// kind updates view in place; unknown kinds are skipped (forward
// compatibility) but logged so an operator notices a version
// skew between daemon and ledger producer.
func applyTo(view *GroupView, evt contracts.Event) {
	view.eventsSinceSnapshot++
	if view.LastEventID.Less(evt.ID) {
		view.LastEventID = evt.ID
	}

	switch evt.Kind {
	case contracts.KindGroupCreate:
		var d contracts.GroupCreate
		if err := evt.Decode(&d); err != nil {
			return
		}
		view.Title = d.Title
		view.Topic = d.Topic
		view.State = contracts.GroupActive

	case contracts.KindGroupUpdate:
		var d contracts.GroupUpdate
		if err := evt.Decode(&d); err != nil {
			return
		}
		if d.Title != "" {
			view.Title = d.Title
		}
		if d.Topic != "" {
			view.Topic = d.Topic
		}

	case contracts.KindGroupAttach:
		var d contracts.GroupAttach
		if err := evt.Decode(&d); err != nil {
			return
		}
		view.Scopes[d.Scope.ScopeKey] = d.Scope.Path

	case contracts.KindGroupDetach:
		var d contracts.GroupDetach
		if err := evt.Decode(&d); err != nil {
			return
		}
		delete(view.Scopes, d.ScopeKey)

	case contracts.KindGroupSetState:
		var d contracts.GroupSetState
		if err := evt.Decode(&d); err != nil {
			return
		}
		view.State = d.State

	case contracts.KindGroupSettingsUpdate:
		var d contracts.GroupSettingsUpdate
		if err := evt.Decode(&d); err != nil {
			return
		}
		view.Settings = view.Settings.Merge(d.Settings)

	case contracts.KindGroupAutomationUpdate:
		var d contracts.GroupAutomationUpdate
		if err := evt.Decode(&d); err != nil {
			return
		}
		view.Automation = d.Ruleset

	case contracts.KindGroupStart:
		view.State = contracts.GroupActive

	case contracts.KindGroupStop:
		view.State = contracts.GroupStopped

	case contracts.KindActorAdd:
		var d contracts.ActorAdd
		if err := evt.Decode(&d); err != nil {
			return
		}
		a := newActorView(d)
		a.seq = view.nextActorSeq
		view.nextActorSeq++
		// Foreman existence invariant: the first actor added to a
		// group is promoted regardless of the payload's requested role,
		// and a group never ends up with two. The event still carries
		// whatever role the caller proposed; the kernel is what makes the
		// invariant hold deterministically off the ledger alone.
		if view.Foreman() == nil {
			a.Role = contracts.RoleForeman
		} else if a.Role == contracts.RoleForeman {
			a.Role = contracts.RolePeer
		}
		view.Actors[d.ActorID] = a

	case contracts.KindActorUpdate:
		var d contracts.ActorUpdate
		if err := evt.Decode(&d); err != nil {
			return
		}
		a, ok := view.Actors[d.ActorID]
		if !ok {
			return
		}
		if len(d.Command) > 0 {
			a.Command = d.Command
		}
		if d.Enabled != nil {
			a.Enabled = *d.Enabled
		}

	case contracts.KindActorStart:
		var d contracts.ActorLifecycle
		if err := evt.Decode(&d); err != nil {
			return
		}
		if a, ok := view.Actors[d.ActorID]; ok {
			a.LifecycleState = "running"
		}

	case contracts.KindActorStop:
		var d contracts.ActorLifecycle
		if err := evt.Decode(&d); err != nil {
			return
		}
		if a, ok := view.Actors[d.ActorID]; ok {
			a.LifecycleState = "stopped"
		}

	case contracts.KindActorRestart:
		var d contracts.ActorLifecycle
		if err := evt.Decode(&d); err != nil {
			return
		}
		if a, ok := view.Actors[d.ActorID]; ok {
			a.LifecycleState = "running"
		}

	case contracts.KindActorRemove:
		var d contracts.ActorRemove
		if err := evt.Decode(&d); err != nil {
			return
		}
		removed, ok := view.Actors[d.ActorID]
		delete(view.Actors, d.ActorID)
		if ok && removed.Role == contracts.RoleForeman {
			promoteOldestToForeman(view)
		}

	case contracts.KindChatMessage:
		var d contracts.ChatMessage
		if err := evt.Decode(&d); err != nil {
			return
		}
		applyObligationSatisfaction(view, evt, d)
		applyPendingAck(view, evt, d)

	case contracts.KindChatRead:
		var d contracts.ChatRead
		if err := evt.Decode(&d); err != nil {
			return
		}
		applyReadCursor(view, evt.By, d.UpTo)

	case contracts.KindChatAck:
		var d contracts.ChatAck
		if err := evt.Decode(&d); err != nil {
			return
		}
		if a, ok := view.Actors[evt.By]; ok {
			delete(a.PendingAck, d.EventID)
		}

	case contracts.KindSystemNotify, contracts.KindSystemNotifyAck, contracts.KindSnapshot, contracts.KindLedgerRecovered:
		// Carried for history/audit; no projection state to update beyond
		// LastEventID, already advanced above.

	default:
		slog.Warn("kernel: skipping unknown event kind", "kind", evt.Kind, "group_id", evt.GroupID, "event_id", evt.ID)
	}
}

// applyObligationSatisfaction resolves a reply-required obligation: a
// chat.message from actor R with reply_to == e.id satisfies R's obligation
// on e, one-way and irreversible.
func applyObligationSatisfaction(view *GroupView, evt contracts.Event, msg contracts.ChatMessage) {
	if msg.ReplyTo == contracts.ZeroEventID {
		return
	}
	if a, ok := view.Actors[evt.By]; ok {
		delete(a.Obligations, msg.ReplyTo)
	}
}

// applyPendingAck registers e in each resolved recipient's pending-ack and
// obligation sets. Addressee resolution to concrete actor
// ids mirrors the delivery engine's own resolution (pkg/delivery), kept
// intentionally simple here since the kernel only needs to track who owes
// an ack/reply, not who receives an injected rendering.
func applyPendingAck(view *GroupView, evt contracts.Event, msg contracts.ChatMessage) {
	if msg.Priority != contracts.PriorityAttention && !msg.ReplyRequired {
		return
	}
	for _, actorID := range resolveRecipients(view, msg.To) {
		a, ok := view.Actors[actorID]
		if !ok {
			continue
		}
		if msg.Priority == contracts.PriorityAttention {
			a.PendingAck[evt.ID] = true
		}
		if msg.ReplyRequired {
			a.Obligations[evt.ID] = true
		}
	}
}

// resolveRecipients expands a to[] list into concrete, currently known
// actor ids.
func resolveRecipients(view *GroupView, to []string) []string {
	if len(to) == 0 {
		to = []string{contracts.ToAll}
	}
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, token := range to {
		switch token {
		case contracts.ToAll:
			for id, a := range view.Actors {
				if a.Enabled {
					add(id)
				}
			}
		case contracts.ToPeers:
			for id, a := range view.Actors {
				if a.Enabled && a.Role != contracts.RoleForeman {
					add(id)
				}
			}
		case contracts.ToForeman:
			if f := view.Foreman(); f != nil {
				add(f.ActorID)
			}
		case contracts.ToUser:
			// the user principal has no Actors entry; tracked separately.
		default:
			if _, ok := view.Actors[token]; ok {
				add(token)
			}
		}
	}
	return out
}

// promoteOldestToForeman re-establishes the foreman existence invariant
// after the incumbent foreman is removed, promoting whichever remaining
// actor was added earliest.
func promoteOldestToForeman(view *GroupView) {
	var oldest *ActorView
	for _, a := range view.Actors {
		if oldest == nil || a.seq < oldest.seq {
			oldest = a
		}
	}
	if oldest != nil {
		oldest.Role = contracts.RoleForeman
	}
}

// applyReadCursor advances by's read cursor to upTo, for either an actor or
// the user principal.
func applyReadCursor(view *GroupView, by string, upTo contracts.EventID) {
	if a, ok := view.Actors[by]; ok {
		if a.ReadCursor.Less(upTo) {
			a.ReadCursor = upTo
		}
		return
	}
	if view.UserReadCursor.Less(upTo) {
		view.UserReadCursor = upTo
	}
}
