package delivery

import (
	"context"
	"time"

	"github.com/cccc-dev/cccc/pkg/contracts"
	"github.com/cccc-dev/cccc/pkg/kernel"
)

// digestState accumulates reasons for one recipient between digest flushes:
// nudges for the same recipient coalesce into one event whose payload lists
// every reason that fired during the window.
type digestState struct {
	lastFlush time.Time
	reasons   map[string]bool
	repeats   int
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

// addReason registers reason as pending for key, unless the recipient has
// already hit nudge_max_repeats_per_obligation.
func (e *Engine) addReason(key actorKey, reason string, maxRepeats int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.digests[key]
	if !ok {
		d = &digestState{reasons: make(map[string]bool)}
		e.digests[key] = d
	}
	if maxRepeats > 0 && d.repeats >= maxRepeats {
		return
	}
	d.reasons[reason] = true
}

// evaluateNudges checks every built-in nudge policy for groupID and queues
// any reason that fires; flushDigests (called at the end) turns accumulated
// reasons into system.notify events once the digest interval has elapsed.
func (e *Engine) evaluateNudges(ctx context.Context, groupID string, view *kernel.GroupView) {
	s := view.Settings
	now := time.Now()

	e.mu.Lock()
	lastChat, haveChat := e.lastChatAt[groupID]
	e.mu.Unlock()
	if foreman := view.Foreman(); foreman != nil {
		fKey := actorKey{groupID, foreman.ActorID}
		if haveChat && now.Sub(lastChat) >= secs(s.SilenceTimeoutSeconds) {
			e.addReason(fKey, contracts.ReasonSilence, s.NudgeMaxRepeatsPerObligation)
		}
		e.mu.Lock()
		delivered, haveDelivered := e.deliveredAt[fKey]
		keepaliveCount := e.keepalive[fKey]
		e.mu.Unlock()
		if haveDelivered && keepaliveCount < s.KeepaliveMaxPerActor && now.Sub(delivered) >= secs(s.KeepaliveDelaySeconds) {
			e.addReason(fKey, contracts.ReasonKeepalive, s.NudgeMaxRepeatsPerObligation)
		}
	}

	for actorID, a := range view.Actors {
		if !a.Enabled {
			continue
		}
		key := actorKey{groupID, actorID}

		e.mu.Lock()
		unreadSince, haveUnread := e.unreadSince[key]
		helpCount := e.helpCounter[key]
		helpLastFired, haveHelpFired := e.helpLastFired[key]
		e.mu.Unlock()

		if haveUnread && now.Sub(unreadSince) >= secs(s.UnreadNudgeAfterSeconds) {
			e.addReason(key, contracts.ReasonUnread, s.NudgeMaxRepeatsPerObligation)
		}
		if oldest, ok := e.oldestObligation(key); ok && now.Sub(oldest) >= secs(s.ReplyRequiredNudgeAfterSeconds) {
			e.addReason(key, contracts.ReasonReplyRequired, s.NudgeMaxRepeatsPerObligation)
		}
		if oldest, ok := e.oldestAck(key); ok && now.Sub(oldest) >= secs(s.AttentionAckNudgeAfterSeconds) {
			e.addReason(key, contracts.ReasonAttentionAck, s.NudgeMaxRepeatsPerObligation)
		}
		if helpCount >= s.HelpNudgeMinMessages && (!haveHelpFired || now.Sub(helpLastFired) >= secs(s.HelpNudgeIntervalSeconds)) {
			e.addReason(key, contracts.ReasonHelp, s.NudgeMaxRepeatsPerObligation)
		}
		if status, known := e.actors.Status(groupID, actorID); known &&
			status.Runner == contracts.RunnerPTY && status.Lifecycle == "running" &&
			!status.LastOutputAt.IsZero() && now.Sub(status.LastOutputAt) >= secs(s.ActorIdleTimeoutSeconds) {
			e.addReason(key, contracts.ReasonActorIdle, s.NudgeMaxRepeatsPerObligation)
		}
	}

	e.flushDigests(ctx, groupID, s)
}

func (e *Engine) oldestObligation(key actorKey) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.obligationSince[key]
	return oldestOf(m)
}

func (e *Engine) oldestAck(key actorKey) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.ackSince[key]
	return oldestOf(m)
}

func oldestOf(m map[contracts.EventID]time.Time) (time.Time, bool) {
	var oldest time.Time
	found := false
	for _, ts := range m {
		if !found || ts.Before(oldest) {
			oldest = ts
			found = true
		}
	}
	return oldest, found
}

// flushDigests emits one system.notify per recipient whose digest interval
// has elapsed and who has at least one pending reason. Once a recipient's
// repeat count reaches NudgeEscalateAfterRepeats, the emitted event is
// raised to attention priority.
func (e *Engine) flushDigests(ctx context.Context, groupID string, s contracts.GroupSettings) {
	now := time.Now()

	e.mu.Lock()
	var due []actorKey
	for key, d := range e.digests {
		if key.groupID != groupID || len(d.reasons) == 0 {
			continue
		}
		if !d.lastFlush.IsZero() && now.Sub(d.lastFlush) < secs(s.NudgeDigestMinIntervalSeconds) {
			continue
		}
		due = append(due, key)
	}
	e.mu.Unlock()

	for _, key := range due {
		e.mu.Lock()
		d := e.digests[key]
		reasons := make([]string, 0, len(d.reasons))
		for r := range d.reasons {
			reasons = append(reasons, r)
		}
		d.reasons = make(map[string]bool)
		d.repeats++
		d.lastFlush = now
		repeats := d.repeats
		if containsReason(reasons, contracts.ReasonKeepalive) {
			e.keepalive[key]++
		}
		if containsReason(reasons, contracts.ReasonHelp) {
			e.helpCounter[key] = 0
			e.helpLastFired[key] = now
		}
		e.mu.Unlock()

		priority := contracts.PriorityNormal
		if s.NudgeEscalateAfterRepeats > 0 && repeats >= s.NudgeEscalateAfterRepeats {
			priority = contracts.PriorityAttention
		}

		_, err := e.ledger.Append(key.groupID, contracts.KindSystemNotify, "automation", "", contracts.SystemNotify{
			Reasons:   reasons,
			Recipient: key.actorID,
			Priority:  priority,
		})
		if err != nil {
			logger(groupID).Warn("delivery: failed to append system.notify", "actor_id", key.actorID, "err", err)
			continue
		}
		if e.metrics != nil {
			for _, r := range reasons {
				e.metrics.NudgesFired.WithLabelValues(r).Inc()
			}
		}

		if status, known := e.actors.Status(groupID, key.actorID); known && status.Runner == contracts.RunnerPTY && status.Lifecycle == "running" {
			_ = e.actors.Inject(ctx, groupID, key.actorID, renderNudge(reasons, priority))
		}
	}
}

func containsReason(reasons []string, target string) bool {
	for _, r := range reasons {
		if r == target {
			return true
		}
	}
	return false
}

func renderNudge(reasons []string, priority contracts.Priority) string {
	text := "[system.notify"
	if priority == contracts.PriorityAttention {
		text += " attention"
	}
	text += "] "
	for i, r := range reasons {
		if i > 0 {
			text += ", "
		}
		text += r
	}
	return text
}
