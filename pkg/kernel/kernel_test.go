package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cccc-dev/cccc/pkg/contracts"
)

func mustEvent(t *testing.T, seq uint64, kind contracts.Kind, groupID, by string, data interface{}) contracts.Event {
	t.Helper()
	evt, err := contracts.NewEvent(kind, groupID, "", by, data)
	require.NoError(t, err)
	evt.ID = contracts.NewEventID(seq)
	return evt
}

func TestRebuildProjectsGroupAndActors(t *testing.T) {
	events := []contracts.Event{
		mustEvent(t, 1, contracts.KindGroupCreate, "g1", "user", contracts.GroupCreate{GroupID: "g1", Title: "Launch"}),
		mustEvent(t, 2, contracts.KindActorAdd, "g1", "user", contracts.ActorAdd{
			ActorID: "foreman-1", Role: contracts.RoleForeman, Runner: contracts.RunnerPTY, Enabled: true,
		}),
		mustEvent(t, 3, contracts.KindActorAdd, "g1", "user", contracts.ActorAdd{
			ActorID: "peer-1", Role: contracts.RolePeer, Runner: contracts.RunnerHeadless, Enabled: true,
		}),
	}

	k := New()
	view := k.Rebuild("g1", events)

	assert.Equal(t, "Launch", view.Title)
	assert.Equal(t, contracts.GroupActive, view.State)
	require.Len(t, view.Actors, 2)
	assert.Equal(t, "foreman-1", view.Foreman().ActorID)
	assert.Equal(t, contracts.NewEventID(3), view.LastEventID)
}

func TestApplyObligationAndAckTracking(t *testing.T) {
	k := New()
	k.Rebuild("g1", []contracts.Event{
		mustEvent(t, 1, contracts.KindGroupCreate, "g1", "user", contracts.GroupCreate{GroupID: "g1", Title: "T"}),
		mustEvent(t, 2, contracts.KindActorAdd, "g1", "user", contracts.ActorAdd{
			ActorID: "peer-1", Role: contracts.RolePeer, Runner: contracts.RunnerHeadless, Enabled: true,
		}),
	})

	msgEvt := mustEvent(t, 3, contracts.KindChatMessage, "g1", "user", contracts.ChatMessage{
		Text: "please ack", Format: contracts.FormatPlain, To: []string{"peer-1"},
		Priority: contracts.PriorityAttention, ReplyRequired: true,
	})
	k.Apply(msgEvt)

	view := k.Group("g1")
	peer := view.Actors["peer-1"]
	assert.True(t, peer.PendingAck[msgEvt.ID])
	assert.True(t, peer.Obligations[msgEvt.ID])

	replyEvt := mustEvent(t, 4, contracts.KindChatMessage, "g1", "peer-1", contracts.ChatMessage{
		Text: "acked", Format: contracts.FormatPlain, To: []string{contracts.ToUser}, ReplyTo: msgEvt.ID,
	})
	k.Apply(replyEvt)
	assert.False(t, peer.Obligations[msgEvt.ID])
	assert.True(t, peer.PendingAck[msgEvt.ID]) // attention-ack is separate from reply obligation

	ackEvt := mustEvent(t, 5, contracts.KindChatAck, "g1", "peer-1", contracts.ChatAck{EventID: msgEvt.ID})
	k.Apply(ackEvt)
	assert.False(t, peer.PendingAck[msgEvt.ID])
}

func TestPermissionMatrixPeerCanOnlyActOnSelf(t *testing.T) {
	self := contracts.Principal{Kind: contracts.PrincipalPeerSelf, ActorID: "peer-1"}
	assert.NoError(t, Allowed(self, contracts.ActionActorStop, "peer-1"))
	assert.Error(t, Allowed(self, contracts.ActionActorStop, "peer-2"))
	assert.Error(t, Allowed(self, contracts.ActionActorAdd, ""))
	assert.NoError(t, Allowed(self, contracts.ActionMessageSend, ""))
}

func TestPermissionMatrixForemanCannotDeleteGroup(t *testing.T) {
	foreman := contracts.Principal{Kind: contracts.PrincipalForeman, ActorID: "foreman-1"}
	assert.Error(t, Allowed(foreman, contracts.ActionGroupDelete, ""))
	assert.NoError(t, Allowed(foreman, contracts.ActionGroupSettingsUpdate, ""))
}

func TestCheckGroupStateBlocksLifecycleWhenStopped(t *testing.T) {
	user := contracts.Principal{Kind: contracts.PrincipalUser}
	peer := contracts.Principal{Kind: contracts.PrincipalPeerSelf, ActorID: "peer-1"}

	assert.Error(t, CheckGroupState(contracts.GroupStopped, user, contracts.ActionActorStart))
	assert.NoError(t, CheckGroupState(contracts.GroupStopped, user, contracts.ActionMessageSend))
	assert.Error(t, CheckGroupState(contracts.GroupStopped, peer, contracts.ActionMessageSend))
	assert.NoError(t, CheckGroupState(contracts.GroupStopped, peer, contracts.ActionInboxMarkRead))
	assert.NoError(t, CheckGroupState(contracts.GroupStopped, user, contracts.ActionGroupSetState))
	assert.NoError(t, CheckGroupState(contracts.GroupActive, peer, contracts.ActionActorStart))
}

func TestSnapshotRoundTrip(t *testing.T) {
	k := New()
	k.Rebuild("g1", []contracts.Event{
		mustEvent(t, 1, contracts.KindGroupCreate, "g1", "user", contracts.GroupCreate{GroupID: "g1", Title: "T"}),
		mustEvent(t, 2, contracts.KindActorAdd, "g1", "user", contracts.ActorAdd{
			ActorID: "peer-1", Role: contracts.RolePeer, Runner: contracts.RunnerHeadless, Enabled: true,
		}),
	})

	snap, ok := k.ExportSnapshot("g1")
	require.True(t, ok)
	assert.Equal(t, "T", snap.Title)

	restored := RestoreSnapshot("g1", snap)
	assert.Equal(t, "T", restored.Title)
	require.Contains(t, restored.Actors, "peer-1")
}
