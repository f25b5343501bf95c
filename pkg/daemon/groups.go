package daemon

import (
	"context"
	"fmt"

	"github.com/cccc-dev/cccc/pkg/config"
	"github.com/cccc-dev/cccc/pkg/contracts"
	"github.com/cccc-dev/cccc/pkg/kernel"
	"github.com/cccc-dev/cccc/pkg/ledger"
)

// requireUser rejects everything but the local human operator. It gates the
// group operations that have no entry in the permission matrix (create,
// update, scope attach/detach, compaction); delete, start, stop, state,
// settings and automation changes go through kernel.Allowed instead.
func requireUser(principal contracts.Principal) error {
	if principal.Kind != contracts.PrincipalUser {
		return contracts.NewDomainError(contracts.CodePermissionDenied, "only the user principal may manage groups", nil)
	}
	return nil
}

// CreateGroup appends group.create, seeds group.yaml, and registers the new
// group in registry.json.
func (d *Daemon) CreateGroup(ctx context.Context, principal contracts.Principal, groupID, title, topic string) (*kernel.GroupView, error) {
	if err := requireUser(principal); err != nil {
		return nil, err
	}
	unlock := d.lockGroup(groupID)
	defer unlock()

	if _, err := d.Ledger.Append(groupID, contracts.KindGroupCreate, "user", "", contracts.GroupCreate{
		GroupID: groupID, Title: title, Topic: topic,
	}); err != nil {
		return nil, err
	}

	doc := config.GroupDocument{GroupID: groupID, Title: title, Topic: topic, Settings: contracts.DefaultGroupSettings()}
	if err := config.SaveGroupDocument(d.Config.RuntimeHome, doc); err != nil {
		return nil, fmt.Errorf("seed group document: %w", err)
	}
	if err := d.Watcher.WatchGroup(d.Config.RuntimeHome, groupID); err != nil {
		return nil, fmt.Errorf("watch group document: %w", err)
	}

	reg, _ := config.LoadRegistry(d.Config.RuntimeHome)
	reg = reg.Upsert(config.RegistryEntry{GroupID: groupID, Title: title, State: contracts.GroupActive})
	if err := config.SaveRegistry(d.Config.RuntimeHome, reg); err != nil {
		return nil, fmt.Errorf("update registry: %w", err)
	}

	return d.Kernel.Group(groupID), nil
}

// UpdateGroup appends group.update (title/topic edit).
func (d *Daemon) UpdateGroup(ctx context.Context, principal contracts.Principal, groupID, title, topic string) (*kernel.GroupView, error) {
	if err := requireUser(principal); err != nil {
		return nil, err
	}
	unlock := d.lockGroup(groupID)
	defer unlock()

	if _, err := d.Ledger.Append(groupID, contracts.KindGroupUpdate, "user", "", contracts.GroupUpdate{Title: title, Topic: topic}); err != nil {
		return nil, err
	}
	return d.Kernel.Group(groupID), nil
}

// AttachScope binds a new filesystem scope to groupID.
func (d *Daemon) AttachScope(ctx context.Context, principal contracts.Principal, groupID string, scope contracts.Scope) (*kernel.GroupView, error) {
	if err := requireUser(principal); err != nil {
		return nil, err
	}
	unlock := d.lockGroup(groupID)
	defer unlock()

	view := d.Kernel.Group(groupID)
	if view == nil {
		return nil, contracts.NewDomainError(contracts.CodeNoSuchGroup, "no such group", map[string]interface{}{"group_id": groupID})
	}
	if _, exists := view.Scopes[scope.ScopeKey]; exists {
		return nil, contracts.NewDomainError(contracts.CodeScopeAlreadyAttached, "scope_key already attached", map[string]interface{}{"scope_key": scope.ScopeKey})
	}
	if _, err := d.Ledger.Append(groupID, contracts.KindGroupAttach, "user", scope.ScopeKey, contracts.GroupAttach{Scope: scope}); err != nil {
		return nil, err
	}
	return d.Kernel.Group(groupID), nil
}

// DetachScope removes a previously attached scope.
func (d *Daemon) DetachScope(ctx context.Context, principal contracts.Principal, groupID, scopeKey string) (*kernel.GroupView, error) {
	if err := requireUser(principal); err != nil {
		return nil, err
	}
	unlock := d.lockGroup(groupID)
	defer unlock()

	if _, err := d.Ledger.Append(groupID, contracts.KindGroupDetach, "user", scopeKey, contracts.GroupDetach{ScopeKey: scopeKey}); err != nil {
		return nil, err
	}
	return d.Kernel.Group(groupID), nil
}

// SetGroupState appends group.set_state after checking the action is
// permitted for principal against the group's current state.
func (d *Daemon) SetGroupState(ctx context.Context, principal contracts.Principal, groupID string, state contracts.GroupState) (*kernel.GroupView, error) {
	unlock := d.lockGroup(groupID)
	defer unlock()

	view := d.Kernel.Group(groupID)
	if view == nil {
		return nil, contracts.NewDomainError(contracts.CodeNoSuchGroup, "no such group", map[string]interface{}{"group_id": groupID})
	}
	if err := kernel.Allowed(principal, contracts.ActionGroupSetState, ""); err != nil {
		return nil, err
	}
	if err := kernel.CheckGroupState(view.State, principal, contracts.ActionGroupSetState); err != nil {
		return nil, err
	}
	if _, err := d.Ledger.Append(groupID, contracts.KindGroupSetState, byFor(principal), "", contracts.GroupSetState{State: state}); err != nil {
		return nil, err
	}
	return d.Kernel.Group(groupID), nil
}

// StartGroup is shorthand for SetGroupState(active).
func (d *Daemon) StartGroup(ctx context.Context, principal contracts.Principal, groupID string) (*kernel.GroupView, error) {
	unlock := d.lockGroup(groupID)
	view := d.Kernel.Group(groupID)
	if view == nil {
		unlock()
		return nil, contracts.NewDomainError(contracts.CodeNoSuchGroup, "no such group", map[string]interface{}{"group_id": groupID})
	}
	if err := kernel.Allowed(principal, contracts.ActionGroupStart, ""); err != nil {
		unlock()
		return nil, err
	}
	if _, err := d.Ledger.Append(groupID, contracts.KindGroupStart, byFor(principal), "", struct{}{}); err != nil {
		unlock()
		return nil, err
	}
	unlock()
	return d.Kernel.Group(groupID), nil
}

// StopGroup is shorthand for SetGroupState(stopped).
func (d *Daemon) StopGroup(ctx context.Context, principal contracts.Principal, groupID string) (*kernel.GroupView, error) {
	unlock := d.lockGroup(groupID)
	defer unlock()

	if err := kernel.Allowed(principal, contracts.ActionGroupStop, ""); err != nil {
		return nil, err
	}
	if _, err := d.Ledger.Append(groupID, contracts.KindGroupStop, byFor(principal), "", struct{}{}); err != nil {
		return nil, err
	}
	return d.Kernel.Group(groupID), nil
}

// DeleteGroup is not implemented as a ledger operation: the ledger
// is append-only and groups are never truly erased. This removes the
// registry.json entry only; it does not stop the group or its actors, and
// the group stays in the kernel projection (and in ListGroups) until the
// daemon restarts. The on-disk group directory, including its full ledger,
// is left untouched.
func (d *Daemon) DeleteGroup(ctx context.Context, principal contracts.Principal, groupID string) error {
	if err := kernel.Allowed(principal, contracts.ActionGroupDelete, ""); err != nil {
		return err
	}
	reg, _ := config.LoadRegistry(d.Config.RuntimeHome)
	reg = reg.Remove(groupID)
	return config.SaveRegistry(d.Config.RuntimeHome, reg)
}

// ListGroups returns every group currently projected by the kernel.
func (d *Daemon) ListGroups(ctx context.Context) []*kernel.GroupView {
	var out []*kernel.GroupView
	for _, id := range d.Kernel.Groups() {
		if v := d.Kernel.Group(id); v != nil {
			out = append(out, v)
		}
	}
	return out
}

// GetGroup returns groupID's live projection, or nil if unknown.
func (d *Daemon) GetGroup(ctx context.Context, groupID string) *kernel.GroupView {
	return d.Kernel.Group(groupID)
}

// ReadLedger serves the ledger search/window operation directly against the
// store, unfiltered by group lock since reads never contend with the
// single-writer append path (per ledger/store.go's own reader discipline).
func (d *Daemon) ReadLedger(ctx context.Context, groupID string, filter ledger.Filter) (ledger.Page, error) {
	return d.Ledger.Read(groupID, filter)
}

// byFor renders a Principal as the Event.By string the ledger records.
func byFor(p contracts.Principal) string {
	switch p.Kind {
	case contracts.PrincipalUser:
		return "user"
	case contracts.PrincipalAutomation:
		return "automation"
	default:
		return p.ActorID
	}
}
