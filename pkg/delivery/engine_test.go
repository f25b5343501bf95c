package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cccc-dev/cccc/pkg/contracts"
	"github.com/cccc-dev/cccc/pkg/kernel"
	"github.com/cccc-dev/cccc/pkg/runner"
)

type fakeAppender struct {
	events []contracts.Event
}

func (f *fakeAppender) Append(groupID string, kind contracts.Kind, by, scopeKey string, data interface{}) (contracts.Event, error) {
	evt, err := contracts.NewEvent(kind, groupID, scopeKey, by, data)
	if err != nil {
		return contracts.Event{}, err
	}
	evt.ID = contracts.NewEventID(uint64(len(f.events) + 1))
	f.events = append(f.events, evt)
	return evt, nil
}

func (f *fakeAppender) byKind(kind contracts.Kind) []contracts.Event {
	var out []contracts.Event
	for _, evt := range f.events {
		if evt.Kind == kind {
			out = append(out, evt)
		}
	}
	return out
}

type fakeActors struct {
	statuses map[string]runner.Status
	injected []string
	started  []string
	stopped  []string
}

func newFakeActors() *fakeActors {
	return &fakeActors{statuses: make(map[string]runner.Status)}
}

func (f *fakeActors) Start(ctx context.Context, groupID, actorID, by string) error {
	f.started = append(f.started, actorID)
	return nil
}

func (f *fakeActors) Stop(ctx context.Context, groupID, actorID, by, reason string) error {
	f.stopped = append(f.stopped, actorID)
	return nil
}

func (f *fakeActors) Restart(ctx context.Context, groupID, actorID, by, reason string) error {
	return nil
}

func (f *fakeActors) Inject(ctx context.Context, groupID, actorID, text string) error {
	f.injected = append(f.injected, text)
	return nil
}

func (f *fakeActors) Status(groupID, actorID string) (runner.Status, bool) {
	s, ok := f.statuses[actorID]
	return s, ok
}

func mustEvt(t *testing.T, seq uint64, kind contracts.Kind, groupID, by string, data interface{}) contracts.Event {
	t.Helper()
	evt, err := contracts.NewEvent(kind, groupID, "", by, data)
	require.NoError(t, err)
	evt.ID = contracts.NewEventID(seq)
	return evt
}

func newTestGroup(t *testing.T, settings contracts.GroupSettings) (*kernel.Kernel, *kernel.GroupView) {
	t.Helper()
	k := kernel.New()
	view := k.Rebuild("g1", []contracts.Event{
		mustEvt(t, 1, contracts.KindGroupCreate, "g1", "user", contracts.GroupCreate{GroupID: "g1", Title: "T"}),
		mustEvt(t, 2, contracts.KindGroupSettingsUpdate, "g1", "user", contracts.GroupSettingsUpdate{Settings: settings}),
		mustEvt(t, 3, contracts.KindActorAdd, "g1", "user", contracts.ActorAdd{
			ActorID: "foreman-1", Role: contracts.RoleForeman, Runner: contracts.RunnerPTY, Enabled: true,
		}),
		mustEvt(t, 4, contracts.KindActorAdd, "g1", "user", contracts.ActorAdd{
			ActorID: "peer-1", Role: contracts.RolePeer, Runner: contracts.RunnerPTY, Enabled: true,
		}),
	})
	return k, view
}

func TestResolveAddresseesExpandsTokens(t *testing.T) {
	_, view := newTestGroup(t, contracts.GroupSettings{AutoMarkOnDelivery: true})

	all := resolveAddressees(view, nil)
	assert.Len(t, all, 3) // user + foreman-1 + peer-1

	peersOnly := resolveAddressees(view, []string{"@peers"})
	require.Len(t, peersOnly, 1)
	assert.Equal(t, "peer-1", peersOnly[0].ActorID)

	foreman := resolveAddressees(view, []string{"@foreman"})
	require.Len(t, foreman, 1)
	assert.Equal(t, "foreman-1", foreman[0].ActorID)

	unknown := resolveAddressees(view, []string{"ghost"})
	require.Len(t, unknown, 1)
	assert.Equal(t, AddresseeUnknown, unknown[0].Kind)
	assert.Equal(t, "ghost", unknown[0].Token)
}

func TestDeliverToActorThrottlesAndQueuesDigest(t *testing.T) {
	k, _ := newTestGroup(t, contracts.GroupSettings{MinIntervalSeconds: 3600})
	actors := newFakeActors()
	actors.statuses["peer-1"] = runner.Status{Runner: contracts.RunnerPTY, Lifecycle: "running"}
	ledger := &fakeAppender{}
	e := New(k, ledger, actors, nil)

	first := mustEvt(t, 5, contracts.KindChatMessage, "g1", "user", contracts.ChatMessage{
		Text: "one", Format: contracts.FormatPlain, To: []string{"peer-1"},
	})
	e.Publish("g1", first)
	require.Len(t, actors.injected, 1)

	second := mustEvt(t, 6, contracts.KindChatMessage, "g1", "user", contracts.ChatMessage{
		Text: "two", Format: contracts.FormatPlain, To: []string{"peer-1"},
	})
	e.Publish("g1", second)
	assert.Len(t, actors.injected, 1, "second message should queue behind the throttle, not inject immediately")

	key := actorKey{"g1", "peer-1"}
	assert.Len(t, e.pending[key], 1)
}

func TestDeliverToActorAutoMarksOnDelivery(t *testing.T) {
	k, _ := newTestGroup(t, contracts.GroupSettings{AutoMarkOnDelivery: true})
	actors := newFakeActors()
	actors.statuses["peer-1"] = runner.Status{Runner: contracts.RunnerPTY, Lifecycle: "running"}
	ledger := &fakeAppender{}
	e := New(k, ledger, actors, nil)

	evt := mustEvt(t, 5, contracts.KindChatMessage, "g1", "user", contracts.ChatMessage{
		Text: "hi", Format: contracts.FormatPlain, To: []string{"peer-1"},
	})
	e.Publish("g1", evt)

	require.Len(t, actors.injected, 1)
	reads := ledger.byKind(contracts.KindChatRead)
	require.Len(t, reads, 1)
	assert.Equal(t, "peer-1", reads[0].By)
}

func TestDeliverToActorAutoWakesStoppedActor(t *testing.T) {
	k, _ := newTestGroup(t, contracts.GroupSettings{})
	actors := newFakeActors()
	actors.statuses["peer-1"] = runner.Status{Runner: contracts.RunnerPTY, Lifecycle: "stopped"}
	ledger := &fakeAppender{}
	e := New(k, ledger, actors, nil)

	evt := mustEvt(t, 5, contracts.KindChatMessage, "g1", "user", contracts.ChatMessage{
		Text: "wake up", Format: contracts.FormatPlain, To: []string{"peer-1"},
	})
	e.Publish("g1", evt)

	assert.Contains(t, actors.started, "peer-1")
}

func TestNudgeDigestCoalescesReasons(t *testing.T) {
	k, view := newTestGroup(t, contracts.GroupSettings{
		UnreadNudgeAfterSeconds:        0,
		ReplyRequiredNudgeAfterSeconds: 0,
		AttentionAckNudgeAfterSeconds:  100000,
		ActorIdleTimeoutSeconds:        100000,
		SilenceTimeoutSeconds:          100000,
		KeepaliveDelaySeconds:          100000,
		HelpNudgeMinMessages:           100000,
		NudgeDigestMinIntervalSeconds:  120,
		NudgeMaxRepeatsPerObligation:   5,
		NudgeEscalateAfterRepeats:      3,
	})
	actors := newFakeActors()
	actors.statuses["peer-1"] = runner.Status{Runner: contracts.RunnerPTY, Lifecycle: "running"}
	ledger := &fakeAppender{}
	e := New(k, ledger, actors, nil)

	old := time.Now().Add(-time.Hour)
	key := actorKey{"g1", "peer-1"}
	e.unreadSince[key] = old
	e.obligationSince[key] = map[contracts.EventID]time.Time{contracts.NewEventID(10): old}

	e.evaluateNudges(context.Background(), "g1", view)

	notifies := ledger.byKind(contracts.KindSystemNotify)
	require.Len(t, notifies, 1, "two reasons on the same recipient should coalesce into one system.notify")

	var payload contracts.SystemNotify
	require.NoError(t, notifies[0].Decode(&payload))
	assert.ElementsMatch(t, []string{contracts.ReasonUnread, contracts.ReasonReplyRequired}, payload.Reasons)

	// A second evaluation inside the digest window must not emit again.
	e.evaluateNudges(context.Background(), "g1", view)
	assert.Len(t, ledger.byKind(contracts.KindSystemNotify), 1)
}

func TestDeliverToActorQueuesWhilePausedAndDrainsOnResume(t *testing.T) {
	k, _ := newTestGroup(t, contracts.GroupSettings{})
	actors := newFakeActors()
	actors.statuses["peer-1"] = runner.Status{Runner: contracts.RunnerPTY, Lifecycle: "running"}
	ledger := &fakeAppender{}
	e := New(k, ledger, actors, nil)

	paused := mustEvt(t, 5, contracts.KindGroupSetState, "g1", "user", contracts.GroupSetState{State: contracts.GroupPaused})
	e.Publish("g1", paused)

	first := mustEvt(t, 6, contracts.KindChatMessage, "g1", "user", contracts.ChatMessage{
		Text: "one", Format: contracts.FormatPlain, To: []string{"peer-1"},
	})
	e.Publish("g1", first)
	second := mustEvt(t, 7, contracts.KindChatMessage, "g1", "user", contracts.ChatMessage{
		Text: "two", Format: contracts.FormatPlain, To: []string{"peer-1"},
	})
	e.Publish("g1", second)

	assert.Empty(t, actors.injected, "commits proceed but injections must not happen while paused")
	key := actorKey{"g1", "peer-1"}
	assert.Len(t, e.pending[key], 2, "both events should sit on the paused backlog in commit order")

	// A heartbeat tick while still paused must not drain the backlog either.
	e.releaseQueued(context.Background(), "g1", k.Group("g1"))
	assert.Empty(t, actors.injected)

	resume := mustEvt(t, 8, contracts.KindGroupSetState, "g1", "user", contracts.GroupSetState{State: contracts.GroupActive})
	e.Publish("g1", resume)

	require.Len(t, actors.injected, 1, "the backlog coalesces into exactly one injection on resume")
	assert.Contains(t, actors.injected[0], "one")
	assert.Contains(t, actors.injected[0], "two")
	assert.Empty(t, e.pending[key])
}

func TestEverySecondsRuleFiresNotifyAction(t *testing.T) {
	k, view := newTestGroup(t, contracts.GroupSettings{})
	rule := contracts.Rule{
		ID:      "r1",
		Enabled: true,
		Trigger: contracts.Trigger{Kind: contracts.TriggerEverySeconds, EverySeconds: 1},
		Action: contracts.RuleAction{
			Kind:             contracts.ActionNotify,
			NotifyRecipients: []string{"user"},
			NotifyText:       "ping",
		},
	}
	view.Automation = contracts.Ruleset{Rules: []contracts.Rule{rule}, Version: 0}

	ledger := &fakeAppender{}
	e := New(k, ledger, newFakeActors(), nil)
	// Seed the baseline tick in the past so the first real evaluation fires.
	e.ruleRuntimeFor("g1", "r1").lastFired = time.Now().Add(-time.Hour)

	e.evaluateRules(context.Background(), "g1", view)

	msgs := ledger.byKind(contracts.KindChatMessage)
	require.Len(t, msgs, 1)
	var payload contracts.ChatMessage
	require.NoError(t, msgs[0].Decode(&payload))
	assert.Equal(t, "ping", payload.Text)
	assert.Equal(t, "automation", msgs[0].By)
}

func TestAtRuleFiresOnceAndDisablesItself(t *testing.T) {
	k, view := newTestGroup(t, contracts.GroupSettings{})
	rule := contracts.Rule{
		ID:      "r2",
		Enabled: true,
		Trigger: contracts.Trigger{Kind: contracts.TriggerAt, At: time.Now().Add(-time.Minute)},
		Action: contracts.RuleAction{
			Kind:             contracts.ActionActorControl,
			ActorControlVerb: contracts.ActorControlStart,
			ActorControlIDs:  []string{"peer-1"},
		},
	}
	view.Automation = contracts.Ruleset{Rules: []contracts.Rule{rule}, Version: 0}

	ledger := &fakeAppender{}
	actors := newFakeActors()
	e := New(k, ledger, actors, nil)

	e.evaluateRules(context.Background(), "g1", view)
	assert.Contains(t, actors.started, "peer-1")

	updates := ledger.byKind(contracts.KindGroupAutomationUpdate)
	require.Len(t, updates, 1)
	var payload contracts.GroupAutomationUpdate
	require.NoError(t, updates[0].Decode(&payload))
	assert.Equal(t, 0, payload.ExpectedVersion)
	require.Len(t, payload.Ruleset.Rules, 1)
	assert.False(t, payload.Ruleset.Rules[0].Enabled)

	// The rule must not fire a second time even though its `at` time has
	// already passed and the ruleset on `view` was never updated in place.
	actors.started = nil
	e.evaluateRules(context.Background(), "g1", view)
	assert.Empty(t, actors.started)
}
