package daemon

import (
	"context"
	"fmt"

	"github.com/cccc-dev/cccc/pkg/config"
	"github.com/cccc-dev/cccc/pkg/contracts"
	"github.com/cccc-dev/cccc/pkg/kernel"
)

// ExportBlueprint renders groupID's actors, settings, and automation
// ruleset as an importable YAML document, excluding scopes, ledger history,
// and secret values.
func (d *Daemon) ExportBlueprint(ctx context.Context, groupID string) ([]byte, error) {
	doc, err := config.LoadGroupDocument(d.Config.RuntimeHome, groupID)
	if err != nil {
		return nil, fmt.Errorf("load group document: %w", err)
	}
	return config.MarshalBlueprint(config.ExportBlueprint(doc))
}

// ImportBlueprint seeds a newly created (empty) group's actors, settings,
// and automation ruleset from a previously exported blueprint. The caller
// is expected to have already called CreateGroup for groupID; each actor
// named in the blueprint is then added the same way AddActor would, so the
// kernel projection, runner registration, and group.yaml all end up
// consistent with one another.
func (d *Daemon) ImportBlueprint(ctx context.Context, principal contracts.Principal, groupID string, raw []byte) (*kernel.GroupView, error) {
	if err := requireUser(principal); err != nil {
		return nil, err
	}
	bp, err := config.UnmarshalBlueprint(raw)
	if err != nil {
		return nil, err
	}

	view := d.Kernel.Group(groupID)
	if view == nil {
		return nil, contracts.NewDomainError(contracts.CodeNoSuchGroup, "no such group", map[string]interface{}{"group_id": groupID})
	}
	if len(view.Actors) > 0 {
		return nil, contracts.NewDomainError(contracts.CodeInvalidPayload, "import_blueprint only applies to a group with no actors yet", nil)
	}

	for _, ad := range bp.Actors {
		add := contracts.ActorAdd{
			ActorID: ad.ActorID, Role: ad.Role, Runtime: ad.Runtime,
			Runner: ad.Runner, Command: ad.Command, Profile: ad.Profile, Enabled: ad.Enabled,
		}
		if _, err := d.AddActor(ctx, principal, groupID, add); err != nil {
			return nil, fmt.Errorf("import actor %s: %w", ad.ActorID, err)
		}
	}
	if _, err := d.UpdateSettings(ctx, principal, groupID, bp.Settings); err != nil {
		return nil, fmt.Errorf("import settings: %w", err)
	}
	if len(bp.Automation.Rules) > 0 {
		if _, err := d.UpdateAutomation(ctx, principal, groupID, bp.Automation, 0); err != nil {
			return nil, fmt.Errorf("import automation: %w", err)
		}
	}
	return d.Kernel.Group(groupID), nil
}
