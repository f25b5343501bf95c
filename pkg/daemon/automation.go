package daemon

import (
	"context"

	"github.com/cccc-dev/cccc/pkg/config"
	"github.com/cccc-dev/cccc/pkg/contracts"
	"github.com/cccc-dev/cccc/pkg/kernel"
)

// GetSettings returns groupID's live settings, folded over the documented
// defaults by the kernel projection already.
func (d *Daemon) GetSettings(ctx context.Context, groupID string) (contracts.GroupSettings, error) {
	view := d.Kernel.Group(groupID)
	if view == nil {
		return contracts.GroupSettings{}, contracts.NewDomainError(contracts.CodeNoSuchGroup, "no such group", map[string]interface{}{"group_id": groupID})
	}
	return view.Settings, nil
}

// UpdateSettings appends group.settings_update, user|foreman only.
func (d *Daemon) UpdateSettings(ctx context.Context, principal contracts.Principal, groupID string, patch contracts.GroupSettings) (contracts.GroupSettings, error) {
	if err := kernel.Allowed(principal, contracts.ActionGroupSettingsUpdate, ""); err != nil {
		return contracts.GroupSettings{}, err
	}
	unlock := d.lockGroup(groupID)
	defer unlock()

	if _, err := d.Ledger.Append(groupID, contracts.KindGroupSettingsUpdate, byFor(principal), "", contracts.GroupSettingsUpdate{Settings: patch}); err != nil {
		return contracts.GroupSettings{}, err
	}
	view := d.Kernel.Group(groupID)
	if err := d.resyncGroupDocument(groupID); err != nil {
		return view.Settings, err
	}
	return view.Settings, nil
}

// GetAutomation returns groupID's current ruleset, including its
// optimistic-concurrency version.
func (d *Daemon) GetAutomation(ctx context.Context, groupID string) (contracts.Ruleset, error) {
	view := d.Kernel.Group(groupID)
	if view == nil {
		return contracts.Ruleset{}, contracts.NewDomainError(contracts.CodeNoSuchGroup, "no such group", map[string]interface{}{"group_id": groupID})
	}
	return view.Automation, nil
}

// UpdateAutomation compare-and-sets groupID's ruleset against
// expectedVersion.
func (d *Daemon) UpdateAutomation(ctx context.Context, principal contracts.Principal, groupID string, ruleset contracts.Ruleset, expectedVersion int) (contracts.Ruleset, error) {
	if err := kernel.Allowed(principal, contracts.ActionGroupAutomationUpdate, ""); err != nil {
		return contracts.Ruleset{}, err
	}
	unlock := d.lockGroup(groupID)
	defer unlock()

	if err := d.Kernel.CheckAutomationVersion(groupID, expectedVersion); err != nil {
		return contracts.Ruleset{}, err
	}
	ruleset.Version = expectedVersion + 1
	if _, err := d.Ledger.Append(groupID, contracts.KindGroupAutomationUpdate, byFor(principal), "", contracts.GroupAutomationUpdate{
		Ruleset: ruleset, ExpectedVersion: expectedVersion,
	}); err != nil {
		return contracts.Ruleset{}, err
	}
	view := d.Kernel.Group(groupID)
	if err := d.resyncGroupDocument(groupID); err != nil {
		return view.Automation, err
	}
	return view.Automation, nil
}

// ResetAutomation clears a group's ruleset back to empty, still subject to
// the same optimistic-concurrency check as any other update.
func (d *Daemon) ResetAutomation(ctx context.Context, principal contracts.Principal, groupID string, expectedVersion int) (contracts.Ruleset, error) {
	return d.UpdateAutomation(ctx, principal, groupID, contracts.Ruleset{}, expectedVersion)
}

// resyncGroupDocument rewrites group.yaml's settings/automation fields from
// the live projection, called after any settings or automation update.
func (d *Daemon) resyncGroupDocument(groupID string) error {
	view := d.Kernel.Group(groupID)
	if view == nil {
		return nil
	}
	doc, err := config.LoadGroupDocument(d.Config.RuntimeHome, groupID)
	if err != nil {
		doc = config.GroupDocument{GroupID: groupID, Title: view.Title, Topic: view.Topic}
	}
	doc.Settings = view.Settings
	doc.Automation = view.Automation
	return config.SaveGroupDocument(d.Config.RuntimeHome, doc)
}
