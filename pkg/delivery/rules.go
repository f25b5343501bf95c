package delivery

import (
	"context"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cccc-dev/cccc/pkg/contracts"
	"github.com/cccc-dev/cccc/pkg/kernel"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ruleRuntime is the engine's private bookkeeping for one user-defined rule:
// when it last fired and, for a cron trigger, its parsed schedule (parsing
// a cron expression on every tick would be wasteful).
type ruleRuntime struct {
	lastFired time.Time
	fired     bool // set once an `at` trigger has fired, since it never fires twice
	schedule  cron.Schedule
}

func (e *Engine) ruleRuntimeFor(groupID, ruleID string) *ruleRuntime {
	e.mu.Lock()
	defer e.mu.Unlock()
	byRule, ok := e.ruleState[groupID]
	if !ok {
		byRule = make(map[string]*ruleRuntime)
		e.ruleState[groupID] = byRule
	}
	rt, ok := byRule[ruleID]
	if !ok {
		rt = &ruleRuntime{}
		byRule[ruleID] = rt
	}
	return rt
}

// evaluateRules checks every enabled user-defined rule for groupID, in
// rule-id order, and fires the ones whose trigger condition is met this
// tick.
func (e *Engine) evaluateRules(ctx context.Context, groupID string, view *kernel.GroupView) {
	rules := append([]contracts.Rule(nil), view.Automation.Rules...)
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })

	now := time.Now()
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		rt := e.ruleRuntimeFor(groupID, rule.ID)
		if !e.shouldFire(rule, rt, now) {
			continue
		}
		e.fireRule(ctx, groupID, view, rule)
		rt.lastFired = now
		if rule.Trigger.Kind == contracts.TriggerAt {
			rt.fired = true
			e.disableRule(groupID, view, rule.ID)
		}
	}
}

// shouldFire evaluates one rule's trigger against rt's bookkeeping. For
// every_seconds and cron triggers the first tick a rule is observed never
// fires it; that tick only establishes a baseline. An `at` trigger fires on
// the first tick at or after its time, once.
func (e *Engine) shouldFire(rule contracts.Rule, rt *ruleRuntime, now time.Time) bool {
	switch rule.Trigger.Kind {
	case contracts.TriggerEverySeconds:
		if rt.lastFired.IsZero() {
			rt.lastFired = now
			return false
		}
		return now.Sub(rt.lastFired) >= secs(rule.Trigger.EverySeconds)

	case contracts.TriggerCron:
		if rt.schedule == nil {
			sched, err := cronParser.Parse(rule.Trigger.Cron)
			if err != nil {
				return false
			}
			rt.schedule = sched
		}
		if rt.lastFired.IsZero() {
			rt.lastFired = now
			return false
		}
		return !rt.schedule.Next(rt.lastFired).After(now)

	case contracts.TriggerAt:
		if rt.fired {
			return false
		}
		return !now.Before(rule.Trigger.At)
	}
	return false
}

// fireRule dispatches one triggered rule's action. group_state and
// actor_control are only meaningful on an `at` trigger (a recurring trigger
// firing either every tick would be destructive); the rule validator
// enforces that at write time, so fireRule trusts the stored ruleset.
func (e *Engine) fireRule(ctx context.Context, groupID string, view *kernel.GroupView, rule contracts.Rule) {
	log := logger(groupID)
	switch rule.Action.Kind {
	case contracts.ActionNotify:
		_, err := e.ledger.Append(groupID, contracts.KindChatMessage, "automation", "", contracts.ChatMessage{
			Text: rule.Action.NotifyText,
			To:   rule.Action.NotifyRecipients,
		})
		if err != nil {
			log.Warn("delivery: rule notify action failed", "rule_id", rule.ID, "err", err)
		}

	case contracts.ActionGroupState:
		if _, err := e.ledger.Append(groupID, contracts.KindGroupSetState, "automation", "", contracts.GroupSetState{
			State: rule.Action.GroupState,
		}); err != nil {
			log.Warn("delivery: rule group_state action failed", "rule_id", rule.ID, "err", err)
		}

	case contracts.ActionActorControl:
		for _, actorID := range rule.Action.ActorControlIDs {
			var err error
			switch rule.Action.ActorControlVerb {
			case contracts.ActorControlStart:
				err = e.actors.Start(ctx, groupID, actorID, "automation")
			case contracts.ActorControlStop:
				err = e.actors.Stop(ctx, groupID, actorID, "automation", "rule "+rule.ID)
			case contracts.ActorControlRestart:
				err = e.actors.Restart(ctx, groupID, actorID, "automation", "rule "+rule.ID)
			}
			if err != nil {
				log.Warn("delivery: rule actor_control action failed", "rule_id", rule.ID, "actor_id", actorID, "err", err)
			}
		}
	}
}

// disableRule flips one fired `at` rule's Enabled flag and appends the
// result as a compare-and-set group.automation_update, so it never fires
// again and the ruleset shown over ipc reflects the change. A version
// conflict here means a concurrent ruleset edit raced the rule firing; the
// rule simply stays enabled in the stored ruleset and the rt.fired guard in
// shouldFire keeps it from firing again in this process regardless.
func (e *Engine) disableRule(groupID string, view *kernel.GroupView, ruleID string) {
	rules := make([]contracts.Rule, len(view.Automation.Rules))
	copy(rules, view.Automation.Rules)
	for i, r := range rules {
		if r.ID == ruleID {
			rules[i].Enabled = false
		}
	}
	expected := view.Automation.Version
	if err := e.kernel.CheckAutomationVersion(groupID, expected); err != nil {
		logger(groupID).Warn("delivery: ruleset changed before auto-disable could apply", "rule_id", ruleID, "err", err)
		return
	}
	if _, err := e.ledger.Append(groupID, contracts.KindGroupAutomationUpdate, "automation", "", contracts.GroupAutomationUpdate{
		Ruleset:         contracts.Ruleset{Rules: rules, Version: expected + 1},
		ExpectedVersion: expected,
	}); err != nil {
		logger(groupID).Warn("delivery: auto-disable of fired rule failed", "rule_id", ruleID, "err", err)
	}
}
