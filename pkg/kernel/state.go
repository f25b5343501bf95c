package kernel

import (
	"github.com/cccc-dev/cccc/pkg/contracts"
)

// ActorView is the live projection of one actor within a group.
type ActorView struct {
	ActorID string
	Role    contracts.Role
	Runtime string
	Runner  contracts.RunnerKind
	Command []string
	Enabled bool
	Profile string

	// LifecycleState mirrors the runner supervisor's state machine; the
	// kernel only records transitions as the supervisor reports them via
	// actor.start/stop/restart events, it does not drive the machine.
	LifecycleState string

	// ReadCursor is the last event_id this actor has acknowledged reading.
	ReadCursor contracts.EventID

	// PendingAck holds attention-priority event ids awaiting chat.ack.
	PendingAck map[contracts.EventID]bool

	// Obligations holds reply-required event ids awaiting a reply from
	// this actor (a chat.message with reply_to == that id).
	Obligations map[contracts.EventID]bool

	// seq is the actor's insertion order within the group, used to find
	// "the oldest remaining actor" when the foreman existence invariant
	// needs to promote a replacement on removal.
	seq int
}

func newActorView(add contracts.ActorAdd) *ActorView {
	return &ActorView{
		ActorID:        add.ActorID,
		Role:           add.Role,
		Runtime:        add.Runtime,
		Runner:         add.Runner,
		Command:        add.Command,
		Enabled:        add.Enabled,
		Profile:        add.Profile,
		LifecycleState: "stopped",
		PendingAck:     make(map[contracts.EventID]bool),
		Obligations:    make(map[contracts.EventID]bool),
	}
}

// GroupView is the live projection of one Working Group.
type GroupView struct {
	GroupID   string
	Title     string
	Topic     string
	State     contracts.GroupState
	Scopes    map[string]string // scope_key -> path
	Settings  contracts.GroupSettings
	Automation contracts.Ruleset

	Actors map[string]*ActorView

	// UserReadCursor is the user principal's own read cursor (the user is
	// not an actor, but does have an inbox).
	UserReadCursor contracts.EventID

	// LastEventID is the highest id seen for this group (reported by the
	// debug snapshot).
	LastEventID contracts.EventID

	// eventsSinceSnapshot counts committed events since the last snapshot
	// was applied, surfaced for compaction-scheduling heuristics.
	eventsSinceSnapshot int

	// nextActorSeq assigns each newly added actor its insertion order.
	nextActorSeq int
}

func newGroupView(groupID string) *GroupView {
	return &GroupView{
		GroupID:  groupID,
		State:    contracts.GroupActive,
		Scopes:   make(map[string]string),
		Settings: contracts.DefaultGroupSettings(),
		Actors:   make(map[string]*ActorView),
	}
}

// EventsSinceSnapshot reports how many events have been applied since
// the last snapshot baseline, for compaction-scheduling heuristics.
func (g *GroupView) EventsSinceSnapshot() int { return g.eventsSinceSnapshot }

// Foreman returns the group's foreman actor, if one exists.
func (g *GroupView) Foreman() *ActorView {
	for _, a := range g.Actors {
		if a.Role == contracts.RoleForeman {
			return a
		}
	}
	return nil
}

// Snapshot is the opaque payload the kernel hands to ledger.Compact: enough
// to rebuild a GroupView without replaying the compacted prefix.
type Snapshot struct {
	Title          string                  `json:"title"`
	Topic          string                  `json:"topic"`
	State          contracts.GroupState    `json:"state"`
	Scopes         map[string]string       `json:"scopes"`
	Settings       contracts.GroupSettings `json:"settings"`
	Automation     contracts.Ruleset       `json:"automation"`
	Actors         map[string]ActorSummary `json:"actors"`
	UserReadCursor contracts.EventID       `json:"user_read_cursor"`
}

// ActorSummary is the serializable slice of ActorView carried in a Snapshot.
type ActorSummary struct {
	Role           contracts.Role       `json:"role"`
	Runtime        string               `json:"runtime"`
	Runner         contracts.RunnerKind `json:"runner"`
	Command        []string             `json:"command"`
	Enabled        bool                 `json:"enabled"`
	Profile        string               `json:"profile,omitempty"`
	LifecycleState string               `json:"lifecycle_state"`
	ReadCursor     contracts.EventID    `json:"read_cursor"`
	PendingAck     []contracts.EventID  `json:"pending_ack,omitempty"`
	Obligations    []contracts.EventID  `json:"obligations,omitempty"`
	Seq            int                  `json:"seq"`
}
