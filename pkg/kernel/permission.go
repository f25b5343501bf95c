package kernel

import (
	"github.com/cccc-dev/cccc/pkg/contracts"
)

// userForemanOnly is the set of actions restricted to user|foreman:
// settings and automation updates.
var userForemanOnly = map[contracts.Action]bool{
	contracts.ActionGroupSettingsUpdate:   true,
	contracts.ActionGroupAutomationUpdate: true,
}

// peerSelfActions is the set of lifecycle actions a peer may take, but
// only against itself.
var peerSelfActions = map[contracts.Action]bool{
	contracts.ActionActorStop:    true,
	contracts.ActionActorRestart: true,
	contracts.ActionActorRemove:  true,
}

// peerAlwaysActions is the set of actions any peer may take regardless of
// target: sending, acking, and reading messages.
var peerAlwaysActions = map[contracts.Action]bool{
	contracts.ActionMessageSend:   true,
	contracts.ActionMessageAck:    true,
	contracts.ActionInboxMarkRead: true,
}

// Allowed evaluates the permission matrix for principal attempting action
// against targetActorID (empty when the action is not actor-scoped).
// Returns nil when permitted, or a *contracts.DomainError with
// contracts.CodePermissionDenied otherwise.
func Allowed(principal contracts.Principal, action contracts.Action, targetActorID string) error {
	switch principal.Kind {
	case contracts.PrincipalUser, contracts.PrincipalAutomation:
		// Users may do anything; automation acts as the rule engine's own
		// identity and is scoped by what the rule's action type permits,
		// not by this matrix (the rule engine validates its own action
		// grammar before ever reaching the kernel).
		return nil

	case contracts.PrincipalForeman:
		if action == contracts.ActionGroupDelete {
			return deny(principal, action)
		}
		return nil

	case contracts.PrincipalPeerSelf, contracts.PrincipalPeerOther:
		if userForemanOnly[action] || action == contracts.ActionGroupDelete ||
			action == contracts.ActionGroupStart || action == contracts.ActionGroupStop ||
			action == contracts.ActionGroupSetState {
			return deny(principal, action)
		}
		if peerAlwaysActions[action] {
			return nil
		}
		if peerSelfActions[action] {
			if principal.Kind == contracts.PrincipalPeerSelf && principal.ActorID == targetActorID {
				return nil
			}
			return deny(principal, action)
		}
		// actor_add and anything else not explicitly granted above.
		return deny(principal, action)

	default:
		return deny(principal, action)
	}
}

func deny(principal contracts.Principal, action contracts.Action) error {
	return contracts.NewDomainError(contracts.CodePermissionDenied, "action not permitted for principal", map[string]interface{}{
		"action":         string(action),
		"principal_kind": string(principal.Kind),
		"actor_id":       principal.ActorID,
	})
}

// CheckGroupState enforces the state-gating rules: stopped blocks
// lifecycle/settings mutations and actor/automation chat, leaving reads,
// inbox operations, restarting the group, and message-send from the user
// principal available; paused and idle impose no gate here (pause only
// suspends delivery fan-out, handled in pkg/delivery).
func CheckGroupState(state contracts.GroupState, principal contracts.Principal, action contracts.Action) error {
	if state != contracts.GroupStopped {
		return nil
	}
	switch action {
	case contracts.ActionMessageSend:
		if principal.Kind == contracts.PrincipalUser {
			return nil
		}
	case contracts.ActionMessageAck, contracts.ActionInboxMarkRead,
		contracts.ActionGroupStart, contracts.ActionGroupSetState:
		return nil
	}
	return contracts.NewDomainError(contracts.CodeGroupStopped, "group is stopped", map[string]interface{}{
		"action":         string(action),
		"principal_kind": string(principal.Kind),
	})
}
