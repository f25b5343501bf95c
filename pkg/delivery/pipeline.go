package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cccc-dev/cccc/pkg/contracts"
	"github.com/cccc-dev/cccc/pkg/kernel"
)

// trackChatActivity updates the bookkeeping the nudge evaluator reads: the
// group's last-chat timestamp (silence nudge) and, for every actor
// recipient, the oldest-unread timestamp (unread nudge) and the
// last-delivered timestamp (keepalive nudge).
func (e *Engine) trackChatActivity(groupID string, evt contracts.Event) {
	var msg contracts.ChatMessage
	if err := evt.Decode(&msg); err != nil {
		return
	}

	e.mu.Lock()
	e.lastChatAt[groupID] = evt.TS
	if msg.ReplyTo != "" {
		senderKey := actorKey{groupID, evt.By}
		if m, ok := e.obligationSince[senderKey]; ok {
			delete(m, msg.ReplyTo)
		}
	}
	e.mu.Unlock()

	view := e.kernel.Group(groupID)
	if view == nil {
		return
	}
	for _, addr := range resolveAddressees(view, msg.To) {
		if addr.Kind != AddresseeActor {
			continue
		}
		key := actorKey{groupID, addr.ActorID}
		a := view.Actors[addr.ActorID]
		if a == nil {
			continue
		}

		e.mu.Lock()
		if a.ReadCursor.Less(evt.ID) {
			if _, ok := e.unreadSince[key]; !ok {
				e.unreadSince[key] = evt.TS
			}
		}
		if a.Role == contracts.RoleForeman {
			e.deliveredAt[key] = evt.TS
		}
		if msg.ReplyRequired {
			if e.obligationSince[key] == nil {
				e.obligationSince[key] = make(map[contracts.EventID]time.Time)
			}
			e.obligationSince[key][evt.ID] = evt.TS
		}
		if msg.Priority == contracts.PriorityAttention {
			if e.ackSince[key] == nil {
				e.ackSince[key] = make(map[contracts.EventID]time.Time)
			}
			e.ackSince[key][evt.ID] = evt.TS
		}
		e.helpCounter[key]++
		e.mu.Unlock()
	}
}

// clearUnreadSince drops the unread bookkeeping of the principal that
// committed a chat.read, whatever its up_to.
func (e *Engine) clearUnreadSince(groupID string, evt contracts.Event) {
	var read contracts.ChatRead
	if err := evt.Decode(&read); err != nil {
		return
	}
	key := actorKey{groupID, evt.By}
	e.mu.Lock()
	delete(e.unreadSince, key)
	e.mu.Unlock()
}

// clearAckSince drops the acknowledged event from the actor's open-ack set.
func (e *Engine) clearAckSince(groupID string, evt contracts.Event) {
	var ack contracts.ChatAck
	if err := evt.Decode(&ack); err != nil {
		return
	}
	key := actorKey{groupID, evt.By}
	e.mu.Lock()
	if m, ok := e.ackSince[key]; ok {
		delete(m, ack.EventID)
	}
	e.mu.Unlock()
}

// deliverChatMessage resolves and delivers one committed chat.message: it
// expands to[] into concrete recipients, then for each actor recipient runs
// the pause gate, auto-wake, throttling, and auto-mark-on-delivery checks.
func (e *Engine) deliverChatMessage(ctx context.Context, groupID string, evt contracts.Event) {
	log := logger(groupID)

	var msg contracts.ChatMessage
	if err := evt.Decode(&msg); err != nil {
		log.Warn("delivery: failed to decode chat.message", "event_id", evt.ID, "err", err)
		return
	}

	view := e.kernel.Group(groupID)
	if view == nil {
		return
	}

	addressees := resolveAddressees(view, msg.To)
	for _, addr := range addressees {
		switch addr.Kind {
		case AddresseeUnknown:
			log.Warn("delivery: unknown recipient in to[]", "token", addr.Token, "event_id", evt.ID)
		case AddresseeActor:
			e.deliverToActor(ctx, groupID, view, addr.ActorID, evt, msg)
		case AddresseeUser:
			// The user principal has no injection target; delivery is
			// satisfied by the user reading the ledger over ipc.
		}
	}
}

// deliverToActor handles one resolved actor recipient: group-paused gating,
// auto-wake, throttling, and auto-mark-on-delivery.
func (e *Engine) deliverToActor(ctx context.Context, groupID string, view *kernel.GroupView, actorID string, evt contracts.Event, msg contracts.ChatMessage) {
	log := logger(groupID)
	a := view.Actors[actorID]
	if a == nil || !a.Enabled {
		return
	}

	status, known := e.actors.Status(groupID, actorID)
	if !known {
		return
	}

	key := actorKey{groupID, actorID}
	if status.Runner == contracts.RunnerPTY && view.State == contracts.GroupPaused {
		// While paused, commits proceed but injections do not. The event
		// joins this actor's backlog so resuming drains it in commit
		// order through the same coalescing path the throttle uses,
		// rather than being silently dropped. Gated on PTY specifically:
		// headless actors are never injected into in the first place, so
		// pausing has nothing to suspend for them.
		e.mu.Lock()
		e.pending[key] = append(e.pending[key], evt)
		e.mu.Unlock()
		return
	}
	if status.Lifecycle != "running" {
		if err := e.actors.Start(ctx, groupID, actorID, "system"); err != nil {
			log.Warn("delivery: auto-wake failed", "actor_id", actorID, "err", err)
			return
		}
	}
	if status.Runner == contracts.RunnerHeadless {
		// Headless actors discover chat by polling their own inbox; there
		// is nothing to inject. Auto-mark still applies if configured.
		if view.Settings.AutoMarkOnDelivery {
			e.markRead(groupID, actorID, evt.ID)
		}
		return
	}

	lim := e.limiterFor(key, view.Settings.MinIntervalSeconds)
	if !lim.Allow() {
		e.mu.Lock()
		e.pending[key] = append(e.pending[key], evt)
		depth := len(e.pending[key])
		e.mu.Unlock()
		if e.metrics != nil {
			e.metrics.QueueDepth.WithLabelValues(groupID, actorID).Set(float64(depth))
		}
		return
	}

	text := renderMessage(evt, msg)
	if err := e.actors.Inject(ctx, groupID, actorID, text); err != nil {
		log.Warn("delivery: injection failed", "actor_id", actorID, "err", err)
		if e.metrics != nil {
			e.metrics.InjectionsFailed.WithLabelValues(groupID, actorID).Inc()
		}
		return
	}
	if e.metrics != nil {
		e.metrics.DeliveryLag.Observe(time.Since(evt.TS).Seconds())
	}
	if view.Settings.AutoMarkOnDelivery {
		e.markRead(groupID, actorID, evt.ID)
	}
}

// releaseQueued flushes any per-actor backlog built up while the throttle
// was closed, coalescing multiple queued events to the same actor into one
// digest injection on release.
func (e *Engine) releaseQueued(ctx context.Context, groupID string, view *kernel.GroupView) {
	log := logger(groupID)

	// While the group is paused the backlog stays put — the injection
	// gate applies on every tick, not just at enqueue time. Nothing is
	// released until a group.set_state/group.start transition flips this
	// back to non-paused and calls releaseQueued itself.
	if view.State == contracts.GroupPaused {
		return
	}

	e.mu.Lock()
	due := make(map[actorKey][]contracts.Event)
	for key, queue := range e.pending {
		if key.groupID != groupID || len(queue) == 0 {
			continue
		}
		lim := e.limiters[key]
		if lim == nil {
			lim = newLimiter(view.Settings.MinIntervalSeconds)
			e.limiters[key] = lim
		}
		if !lim.Allow() {
			continue
		}
		due[key] = queue
		delete(e.pending, key)
	}
	e.mu.Unlock()

	for key, queue := range due {
		a := view.Actors[key.actorID]
		if a == nil || !a.Enabled {
			continue
		}
		status, known := e.actors.Status(groupID, key.actorID)
		if !known || status.Lifecycle != "running" || status.Runner != contracts.RunnerPTY {
			continue
		}
		text := renderDigest(queue)
		if err := e.actors.Inject(ctx, groupID, key.actorID, text); err != nil {
			log.Warn("delivery: digest injection failed", "actor_id", key.actorID, "err", err)
			if e.metrics != nil {
				e.metrics.InjectionsFailed.WithLabelValues(groupID, key.actorID).Inc()
			}
			continue
		}
		if e.metrics != nil {
			e.metrics.QueueDepth.WithLabelValues(groupID, key.actorID).Set(0)
		}
		if view.Settings.AutoMarkOnDelivery {
			e.markRead(groupID, key.actorID, queue[len(queue)-1].ID)
		}
	}
}

func (e *Engine) markRead(groupID, actorID string, upTo contracts.EventID) {
	if _, err := e.ledger.Append(groupID, contracts.KindChatRead, actorID, "", contracts.ChatRead{UpTo: upTo}); err != nil {
		logger(groupID).Warn("delivery: auto-mark chat.read failed", "actor_id", actorID, "err", err)
	}
}

// renderMessage is the text the supervisor injects into a PTY actor for one
// chat.message. The transcript itself is never written to the ledger; only
// the rendering decision lives here.
func renderMessage(evt contracts.Event, msg contracts.ChatMessage) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s from %s]", evt.TS.Format(time.RFC3339), evt.By)
	if msg.ReplyTo != contracts.ZeroEventID {
		fmt.Fprintf(&sb, " (re %s)", msg.ReplyTo)
	}
	if msg.ReplyRequired {
		sb.WriteString(" (reply required)")
	}
	if msg.Priority == contracts.PriorityAttention {
		sb.WriteString(" (attention)")
	}
	sb.WriteString(": ")
	sb.WriteString(msg.Text)
	return sb.String()
}

// renderDigest combines several coalesced events into one injection.
func renderDigest(queue []contracts.Event) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%d queued messages]\n", len(queue))
	for _, evt := range queue {
		var msg contracts.ChatMessage
		if err := evt.Decode(&msg); err != nil {
			continue
		}
		sb.WriteString(renderMessage(evt, msg))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
