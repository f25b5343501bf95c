package contracts

import "encoding/json"

// ValidatePayload decodes data as the shape kind requires and runs its
// struct-level validation. The ledger store calls this before assigning an
// id, so a malformed payload fails with invalid_payload before it ever
// touches disk. Unknown kinds are accepted here (forward compatibility is
// the kernel projection's concern, not the ledger's) but must still decode
// as a JSON object.
func ValidatePayload(kind Kind, data []byte) error {
	if !json.Valid(data) {
		return NewValidationError("data", "not valid JSON")
	}
	if !IsKnown(kind) {
		var v map[string]interface{}
		if err := json.Unmarshal(data, &v); err != nil {
			return NewValidationError("data", "unknown kind payload must be a JSON object")
		}
		return nil
	}

	switch kind {
	case KindChatMessage:
		var m ChatMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return NewValidationError("data", "malformed chat.message payload: "+err.Error())
		}
		return m.Validate()
	case KindChatRead:
		var r ChatRead
		return decodeStrict(data, &r)
	case KindChatAck:
		var a ChatAck
		if err := decodeStrict(data, &a); err != nil {
			return err
		}
		if a.EventID == ZeroEventID {
			return NewValidationError("event_id", "chat.ack requires an event_id")
		}
		return nil
	case KindGroupCreate:
		var g GroupCreate
		if err := decodeStrict(data, &g); err != nil {
			return err
		}
		if g.Title == "" {
			return NewValidationError("title", "group title is required")
		}
		return nil
	case KindGroupSetState:
		var s GroupSetState
		if err := decodeStrict(data, &s); err != nil {
			return err
		}
		switch s.State {
		case GroupActive, GroupIdle, GroupPaused, GroupStopped:
			return nil
		default:
			return NewValidationError("state", "unknown group state")
		}
	case KindActorAdd:
		var a ActorAdd
		if err := decodeStrict(data, &a); err != nil {
			return err
		}
		if a.ActorID == "" {
			return NewValidationError("actor_id", "actor_id is required")
		}
		switch a.Runner {
		case RunnerPTY, RunnerHeadless:
		default:
			return NewValidationError("runner", "must be pty or headless")
		}
		return nil
	case KindGroupSettingsUpdate:
		var s GroupSettingsUpdate
		return decodeStrict(data, &s)
	case KindGroupAutomationUpdate:
		var a GroupAutomationUpdate
		if err := decodeStrict(data, &a); err != nil {
			return err
		}
		for _, r := range a.Ruleset.Rules {
			if r.ID == "" {
				return NewValidationError("rules", "every rule requires an id")
			}
			switch r.Trigger.Kind {
			case TriggerEverySeconds, TriggerCron, TriggerAt:
			default:
				return NewValidationError("trigger", "unknown trigger kind")
			}
			if r.Action.Kind != ActionNotify && r.Trigger.Kind != TriggerAt {
				return NewValidationError("action", "group_state and actor_control actions are only valid on an at trigger")
			}
		}
		return nil
	default:
		var v map[string]interface{}
		if err := json.Unmarshal(data, &v); err != nil {
			return NewValidationError("data", "payload must be a JSON object")
		}
		return nil
	}
}

func decodeStrict(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return NewValidationError("data", err.Error())
	}
	return nil
}

// Blob is the metadata describing a content-addressed attachment stored by
// the ledger's blob store.
type Blob struct {
	SHA256    string `json:"sha256"`
	Bytes     int64  `json:"bytes"`
	Filename  string `json:"filename,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}
