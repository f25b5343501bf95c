package contracts

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// EventID is a per-group monotonically assigned identifier. It is rendered
// as a fixed-width zero-padded decimal string so that lexical and numeric
// ordering agree, which keeps the on-disk ledger greppable and the IPC wire
// format a plain string.
type EventID string

// ZeroEventID is the sentinel "nothing read yet" / "before anything"
// cursor value. It compares less than every real EventID.
const ZeroEventID EventID = ""

// eventIDWidth bounds the zero-padded width. 2^63-1 fits in 19 digits;
// 20 leaves headroom and keeps the format fixed-width for the life of a
// ledger.
const eventIDWidth = 20

// NewEventID renders a sequence number as an EventID.
func NewEventID(seq uint64) EventID {
	return EventID(fmt.Sprintf("%0*d", eventIDWidth, seq))
}

// Seq parses an EventID back to its numeric sequence. Returns 0 for the
// zero value.
func (id EventID) Seq() (uint64, error) {
	if id == ZeroEventID {
		return 0, nil
	}
	return strconv.ParseUint(string(id), 10, 64)
}

// Less reports whether id sorts strictly before other in commit order.
func (id EventID) Less(other EventID) bool {
	return id < other
}

// Kind is the closed set of event kinds a committed event may carry.
type Kind string

// The closed set of event kinds.
const (
	KindGroupCreate            Kind = "group.create"
	KindGroupUpdate            Kind = "group.update"
	KindGroupAttach            Kind = "group.attach"
	KindGroupDetach            Kind = "group.detach"
	KindGroupStart             Kind = "group.start"
	KindGroupStop              Kind = "group.stop"
	KindGroupSetState          Kind = "group.set_state"
	KindGroupSettingsUpdate    Kind = "group.settings_update"
	KindGroupAutomationUpdate  Kind = "group.automation_update"
	KindActorAdd               Kind = "actor.add"
	KindActorUpdate            Kind = "actor.update"
	KindActorStart             Kind = "actor.start"
	KindActorStop              Kind = "actor.stop"
	KindActorRestart           Kind = "actor.restart"
	KindActorRemove            Kind = "actor.remove"
	KindChatMessage            Kind = "chat.message"
	KindChatRead               Kind = "chat.read"
	KindChatAck                Kind = "chat.ack"
	KindSystemNotify           Kind = "system.notify"
	KindSystemNotifyAck        Kind = "system.notify_ack"
	KindSnapshot               Kind = "snapshot"
	KindLedgerRecovered        Kind = "ledger.recovered"
)

// knownKinds backs IsKnown; unknown kinds are forward-compatible (skipped by
// the kernel projection, but counted and logged), never rejected at the
// ledger layer.
var knownKinds = map[Kind]bool{
	KindGroupCreate: true, KindGroupUpdate: true, KindGroupAttach: true,
	KindGroupDetach: true, KindGroupStart: true, KindGroupStop: true,
	KindGroupSetState: true, KindGroupSettingsUpdate: true,
	KindGroupAutomationUpdate: true, KindActorAdd: true, KindActorUpdate: true,
	KindActorStart: true, KindActorStop: true, KindActorRestart: true,
	KindActorRemove: true, KindChatMessage: true, KindChatRead: true,
	KindChatAck: true, KindSystemNotify: true, KindSystemNotifyAck: true,
	KindSnapshot: true, KindLedgerRecovered: true,
}

// IsKnown reports whether k is a member of the closed event kind set.
func IsKnown(k Kind) bool { return knownKinds[k] }

// EventEnvelopeVersion is the current wire version of Event.
const EventEnvelopeVersion = 1

// Event is the immutable envelope every ledger record carries. Events are
// append-only: there is no update and no delete, only new events that
// correct prior ones.
type Event struct {
	V        int             `json:"v"`
	ID       EventID         `json:"id"`
	TS       time.Time       `json:"ts"`
	Kind     Kind            `json:"kind"`
	GroupID  string          `json:"group_id"`
	ScopeKey string          `json:"scope_key,omitempty"`
	By       string          `json:"by"`
	Data     json.RawMessage `json:"data"`
}

// Decode unmarshals Data into v.
func (e Event) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// NewEvent constructs an envelope around a validated payload. The caller
// (the ledger store) assigns ID and TS at append time; NewEvent leaves them
// zero so the ledger cannot accidentally be bypassed.
func NewEvent(kind Kind, groupID, scopeKey, by string, data interface{}) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal event data for kind %s: %w", kind, err)
	}
	return Event{
		V:        EventEnvelopeVersion,
		Kind:     kind,
		GroupID:  groupID,
		ScopeKey: scopeKey,
		By:       by,
		Data:     raw,
	}, nil
}
