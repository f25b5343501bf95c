package daemon

import (
	"log/slog"
	"reflect"

	"github.com/cccc-dev/cccc/pkg/config"
	"github.com/cccc-dev/cccc/pkg/contracts"
)

// onGroupDocChanged is the config.Watcher callback: an operator hand-edited
// group.yaml, so reload it and fold any settings or automation drift into
// the ledger as the corresponding update event. Scope and actor edits made
// directly in the file are intentionally not picked up here — those flow
// through their own ledger-first operations, and group.yaml's actor/scope
// lists are a generated view of the projection, not a second source of
// truth for them.
func (d *Daemon) onGroupDocChanged(groupID string) {
	unlock := d.lockGroup(groupID)
	defer unlock()

	view := d.Kernel.Group(groupID)
	if view == nil {
		return
	}
	doc, err := config.LoadGroupDocument(d.Config.RuntimeHome, groupID)
	if err != nil {
		slog.Warn("failed to reload group document after watch event", "group_id", groupID, "err", err)
		return
	}

	if !reflect.DeepEqual(doc.Settings, view.Settings) {
		if _, err := d.Ledger.Append(groupID, contracts.KindGroupSettingsUpdate, "user", "", contracts.GroupSettingsUpdate{Settings: doc.Settings}); err != nil {
			slog.Warn("failed to apply hand-edited settings", "group_id", groupID, "err", err)
		}
	}
	if doc.Automation.Version == view.Automation.Version && !reflect.DeepEqual(doc.Automation.Rules, view.Automation.Rules) {
		doc.Automation.Version = view.Automation.Version + 1
		if _, err := d.Ledger.Append(groupID, contracts.KindGroupAutomationUpdate, "user", "", contracts.GroupAutomationUpdate{
			Ruleset: doc.Automation, ExpectedVersion: view.Automation.Version,
		}); err != nil {
			slog.Warn("failed to apply hand-edited automation ruleset", "group_id", groupID, "err", err)
		}
	}
}
