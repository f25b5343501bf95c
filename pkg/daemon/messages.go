package daemon

import (
	"context"
	"fmt"

	"github.com/cccc-dev/cccc/pkg/contracts"
	"github.com/cccc-dev/cccc/pkg/kernel"
	"github.com/cccc-dev/cccc/pkg/ledger"
)

// SendMessage validates and appends a chat.message event.
func (d *Daemon) SendMessage(ctx context.Context, principal contracts.Principal, groupID string, msg contracts.ChatMessage) (contracts.Event, error) {
	unlock := d.lockGroup(groupID)
	defer unlock()

	view := d.Kernel.Group(groupID)
	if view == nil {
		return contracts.Event{}, contracts.NewDomainError(contracts.CodeNoSuchGroup, "no such group", map[string]interface{}{"group_id": groupID})
	}
	if err := kernel.Allowed(principal, contracts.ActionMessageSend, ""); err != nil {
		return contracts.Event{}, err
	}
	if err := kernel.CheckGroupState(view.State, principal, contracts.ActionMessageSend); err != nil {
		return contracts.Event{}, err
	}
	return d.Ledger.Append(groupID, contracts.KindChatMessage, byFor(principal), "", msg)
}

// RelayMessage is the IM bridge adapter's entry point: it redeems a
// one-time binding key and, on success, appends the relayed text as a
// chat.message from that platform identity. The binding's own issuance is
// the authorization; no further permission check applies.
func (d *Daemon) RelayMessage(ctx context.Context, bindingKey, text string) (contracts.Event, error) {
	binding, err := d.IM.Redeem(bindingKey)
	if err != nil {
		return contracts.Event{}, contracts.NewDomainError(contracts.CodeUnauthorized, err.Error(), nil)
	}

	unlock := d.lockGroup(binding.GroupID)
	defer unlock()

	by := fmt.Sprintf("im:%s:%s", binding.Platform, binding.Channel)
	msg := contracts.ChatMessage{Text: text, Format: contracts.FormatPlain, To: []string{contracts.ToForeman}}
	return d.Ledger.Append(binding.GroupID, contracts.KindChatMessage, by, "", msg)
}

// AckMessage appends a chat.ack for an attention-priority event.
func (d *Daemon) AckMessage(ctx context.Context, principal contracts.Principal, groupID string, eventID contracts.EventID) (contracts.Event, error) {
	unlock := d.lockGroup(groupID)
	defer unlock()

	if err := kernel.Allowed(principal, contracts.ActionMessageAck, ""); err != nil {
		return contracts.Event{}, err
	}
	return d.Ledger.Append(groupID, contracts.KindChatAck, byFor(principal), "", contracts.ChatAck{EventID: eventID})
}

// MarkRead appends a chat.read advancing principal's read cursor.
func (d *Daemon) MarkRead(ctx context.Context, principal contracts.Principal, groupID string, upTo contracts.EventID) (contracts.Event, error) {
	unlock := d.lockGroup(groupID)
	defer unlock()

	if err := kernel.Allowed(principal, contracts.ActionInboxMarkRead, ""); err != nil {
		return contracts.Event{}, err
	}
	return d.Ledger.Append(groupID, contracts.KindChatRead, byFor(principal), "", contracts.ChatRead{UpTo: upTo})
}

// Inbox lists messages and notifications principal has not yet read,
// resolving the reader's cursor from the live kernel projection: the
// user's own cursor for a user principal, or the named actor's otherwise.
func (d *Daemon) Inbox(ctx context.Context, principal contracts.Principal, groupID string, limit int) (ledger.Page, error) {
	view := d.Kernel.Group(groupID)
	if view == nil {
		return ledger.Page{}, contracts.NewDomainError(contracts.CodeNoSuchGroup, "no such group", map[string]interface{}{"group_id": groupID})
	}

	cursor := view.UserReadCursor
	if principal.Kind != contracts.PrincipalUser {
		a, ok := view.Actors[principal.ActorID]
		if !ok {
			return ledger.Page{}, contracts.NewDomainError(contracts.CodeNoSuchActor, "no such actor", map[string]interface{}{"actor_id": principal.ActorID})
		}
		cursor = a.ReadCursor
	}

	return d.Ledger.Read(groupID, ledger.Filter{
		After: cursor,
		Kinds: []contracts.Kind{contracts.KindChatMessage, contracts.KindSystemNotify},
		Limit: limit,
	})
}

// PutBlob stores attachment bytes under groupID, content-addressed.
func (d *Daemon) PutBlob(ctx context.Context, groupID string, data []byte) (contracts.Blob, error) {
	return d.Ledger.Blobs().Put(groupID, data)
}

// GetBlob retrieves previously stored attachment bytes.
func (d *Daemon) GetBlob(ctx context.Context, groupID, sha256 string) ([]byte, error) {
	return d.Ledger.Blobs().Get(ctx, groupID, sha256)
}

// ContextUpdate applies a batch of scope and actor-enablement edits under a
// single group lock. Each sub-operation is still its own ledger append (the
// ledger has no multi-event transaction primitive; appends are one event
// at a time); batching here only guarantees no other mutation on
// this group interleaves between them.
type ContextUpdate struct {
	AttachScopes []contracts.Scope `json:"attach_scopes,omitempty"`
	DetachScopes []string          `json:"detach_scopes,omitempty"`
	ActorEnabled map[string]bool   `json:"actor_enabled,omitempty"`
}

// ApplyContextUpdate runs a ContextUpdate's edits in order, stopping at the
// first error (edits already appended remain committed, per the ledger's
// append-only nature).
func (d *Daemon) ApplyContextUpdate(ctx context.Context, principal contracts.Principal, groupID string, upd ContextUpdate) (*kernel.GroupView, error) {
	if err := kernel.Allowed(principal, contracts.ActionContextUpdate, ""); err != nil {
		return nil, err
	}
	unlock := d.lockGroup(groupID)
	defer unlock()

	for _, scope := range upd.AttachScopes {
		if _, err := d.Ledger.Append(groupID, contracts.KindGroupAttach, byFor(principal), scope.ScopeKey, contracts.GroupAttach{Scope: scope}); err != nil {
			return nil, err
		}
	}
	for _, scopeKey := range upd.DetachScopes {
		if _, err := d.Ledger.Append(groupID, contracts.KindGroupDetach, byFor(principal), scopeKey, contracts.GroupDetach{ScopeKey: scopeKey}); err != nil {
			return nil, err
		}
	}
	for actorID, enabled := range upd.ActorEnabled {
		enabled := enabled
		if _, err := d.Ledger.Append(groupID, contracts.KindActorUpdate, byFor(principal), "", contracts.ActorUpdate{ActorID: actorID, Enabled: &enabled}); err != nil {
			return nil, err
		}
	}
	return d.Kernel.Group(groupID), nil
}
