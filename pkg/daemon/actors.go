package daemon

import (
	"context"
	"fmt"

	"github.com/cccc-dev/cccc/pkg/config"
	"github.com/cccc-dev/cccc/pkg/contracts"
	"github.com/cccc-dev/cccc/pkg/kernel"
	"github.com/cccc-dev/cccc/pkg/runner"
)

// RuntimeDescriptor is one entry of the symbolic runtime table surfaced by
// the runtime_list operation: the set of agent runtimes the daemon
// knows how to launch, independent of any particular group's actors.
type RuntimeDescriptor struct {
	Name        string   `json:"name"`
	DefaultCmd  []string `json:"default_command"`
	SupportsPTY bool     `json:"supports_pty"`
}

// KnownRuntimes is the built-in runtime table. A profile's Runtime field
// may name any of these, or an operator-defined custom runtime backed
// entirely by its own ActorProfile.Command.
var KnownRuntimes = []RuntimeDescriptor{
	{Name: "claude", DefaultCmd: []string{"claude"}, SupportsPTY: true},
	{Name: "codex", DefaultCmd: []string{"codex"}, SupportsPTY: true},
	{Name: "custom", DefaultCmd: nil, SupportsPTY: true},
}

// ListRuntimes returns the symbolic runtime descriptor table.
func (d *Daemon) ListRuntimes(ctx context.Context) []RuntimeDescriptor {
	return KnownRuntimes
}

// AddActor appends actor.add, registers the actor with the runner
// supervisor, and updates group.yaml so the actor survives a daemon
// restart as part of the group's static document.
func (d *Daemon) AddActor(ctx context.Context, principal contracts.Principal, groupID string, add contracts.ActorAdd) (*kernel.GroupView, error) {
	if err := kernel.Allowed(principal, contracts.ActionActorAdd, ""); err != nil {
		return nil, err
	}
	unlock := d.lockGroup(groupID)
	defer unlock()

	view := d.Kernel.Group(groupID)
	if view == nil {
		return nil, contracts.NewDomainError(contracts.CodeNoSuchGroup, "no such group", map[string]interface{}{"group_id": groupID})
	}
	if err := kernel.CheckGroupState(view.State, principal, contracts.ActionActorAdd); err != nil {
		return nil, err
	}
	if _, exists := view.Actors[add.ActorID]; exists {
		return nil, contracts.NewDomainError(contracts.CodeScopeAlreadyAttached, "actor_id already exists in group", map[string]interface{}{"actor_id": add.ActorID})
	}

	if _, err := d.Ledger.Append(groupID, contracts.KindActorAdd, byFor(principal), "", add); err != nil {
		return nil, err
	}
	if err := d.Runners.Register(groupID, add); err != nil {
		return nil, err
	}
	if err := d.syncGroupDocumentActors(groupID); err != nil {
		return nil, fmt.Errorf("sync group document: %w", err)
	}
	return d.Kernel.Group(groupID), nil
}

// UpdateActor appends actor.update (command/enabled edit).
func (d *Daemon) UpdateActor(ctx context.Context, principal contracts.Principal, groupID string, update contracts.ActorUpdate) (*kernel.GroupView, error) {
	unlock := d.lockGroup(groupID)
	defer unlock()

	if err := d.checkActorTarget(principal, groupID, contracts.ActionActorAdd, update.ActorID); err != nil {
		return nil, err
	}
	if _, err := d.Ledger.Append(groupID, contracts.KindActorUpdate, byFor(principal), "", update); err != nil {
		return nil, err
	}
	if err := d.syncGroupDocumentActors(groupID); err != nil {
		return nil, fmt.Errorf("sync group document: %w", err)
	}
	return d.Kernel.Group(groupID), nil
}

// StartActor launches actorID's runner and appends actor.start. Mutations
// never hold the per-group lock across an unbounded wait; the
// pty spawn itself (pkg/runner's PTYRunner.Start → pty.Start) can block for
// the full process-launch duration, so the permission/state check runs
// under the lock but the spawn does not. Runners.Start's own actor-scoped
// lock prevents a duplicate spawn, and the terminal actor.start append goes
// through the ledger's per-group write lock, so event ordering holds
// without d.lockGroup held across the wait.
func (d *Daemon) StartActor(ctx context.Context, principal contracts.Principal, groupID, actorID string) error {
	unlock := d.lockGroup(groupID)
	if err := d.checkActorTarget(principal, groupID, contracts.ActionActorStart, actorID); err != nil {
		unlock()
		return err
	}
	unlock()

	return d.Runners.Start(ctx, groupID, actorID, byFor(principal))
}

// StopActor stops actorID's runner and appends actor.stop. The graceful
// drain (pkg/runner.RestartDrainTimeout) is the same kind of unbounded wait
// StartActor avoids holding the lock across; see its comment.
func (d *Daemon) StopActor(ctx context.Context, principal contracts.Principal, groupID, actorID, reason string) error {
	unlock := d.lockGroup(groupID)
	if err := d.checkActorTarget(principal, groupID, contracts.ActionActorStop, actorID); err != nil {
		unlock()
		return err
	}
	unlock()

	return d.Runners.Stop(ctx, groupID, actorID, byFor(principal), reason)
}

// RestartActor stops then starts actorID's runner and appends
// actor.restart, again without holding the group lock across the drain and
// respawn.
func (d *Daemon) RestartActor(ctx context.Context, principal contracts.Principal, groupID, actorID, reason string) error {
	unlock := d.lockGroup(groupID)
	if err := d.checkActorTarget(principal, groupID, contracts.ActionActorRestart, actorID); err != nil {
		unlock()
		return err
	}
	unlock()

	return d.Runners.Restart(ctx, groupID, actorID, byFor(principal), reason)
}

// RemoveActor stops (if running), drops the runner, appends actor.remove,
// and re-syncs group.yaml. If the removed actor was the foreman, the
// kernel projection has already promoted the oldest remaining actor by the
// time this returns (Runners.Remove's append flows through the ledger's
// publisher into kernel.Apply before Append itself returns). The graceful
// drain inside Runners.Remove is the same unbounded wait StartActor avoids
// holding the group lock across; see its comment.
func (d *Daemon) RemoveActor(ctx context.Context, principal contracts.Principal, groupID, actorID string) error {
	unlock := d.lockGroup(groupID)
	if err := d.checkActorTarget(principal, groupID, contracts.ActionActorRemove, actorID); err != nil {
		unlock()
		return err
	}
	unlock()

	if err := d.Runners.Remove(ctx, groupID, actorID, byFor(principal)); err != nil {
		return err
	}
	return d.syncGroupDocumentActors(groupID)
}

// checkActorTarget runs the permission matrix and group-state gate for an
// actor-targeted action.
func (d *Daemon) checkActorTarget(principal contracts.Principal, groupID string, action contracts.Action, actorID string) error {
	view := d.Kernel.Group(groupID)
	if view == nil {
		return contracts.NewDomainError(contracts.CodeNoSuchGroup, "no such group", map[string]interface{}{"group_id": groupID})
	}
	if _, ok := view.Actors[actorID]; !ok {
		return contracts.NewDomainError(contracts.CodeNoSuchActor, "no such actor", map[string]interface{}{"actor_id": actorID})
	}
	if err := kernel.Allowed(principal, action, actorID); err != nil {
		return err
	}
	return kernel.CheckGroupState(view.State, principal, action)
}

// ActorStatus reports a runner's point-in-time health.
func (d *Daemon) ActorStatus(ctx context.Context, groupID, actorID string) (runner.Status, bool) {
	return d.Runners.Status(groupID, actorID)
}

// TerminalTail returns up to n bytes of a PTY actor's recent transcript,
// redacted through the masker against the actor's own private env values.
func (d *Daemon) TerminalTail(ctx context.Context, groupID, actorID string, n int) (string, error) {
	secrets, err := config.LoadSecrets(d.Config.RuntimeHome, groupID, actorID)
	if err != nil {
		return "", fmt.Errorf("load actor secrets: %w", err)
	}
	raw := d.Runners.TranscriptTail(groupID, actorID, n)
	return d.Masker.RedactText(string(raw), secrets), nil
}

// syncGroupDocumentActors rewrites group.yaml's actor list from the live
// kernel projection, called after any actor.add/update/remove so a
// hand-inspecting operator (or a later daemon restart scanning group.yaml
// as a convenience cache) always sees current state.
func (d *Daemon) syncGroupDocumentActors(groupID string) error {
	view := d.Kernel.Group(groupID)
	if view == nil {
		return nil
	}
	doc, err := config.LoadGroupDocument(d.Config.RuntimeHome, groupID)
	if err != nil {
		doc = config.GroupDocument{GroupID: groupID, Title: view.Title, Topic: view.Topic}
	}
	doc.Actors = doc.Actors[:0]
	for _, a := range view.Actors {
		secrets, _ := config.LoadSecrets(d.Config.RuntimeHome, groupID, a.ActorID)
		doc.Actors = append(doc.Actors, config.ActorDocument{
			ActorID: a.ActorID,
			Role:    a.Role,
			Runtime: a.Runtime,
			Runner:  a.Runner,
			Command: a.Command,
			Profile: a.Profile,
			Enabled: a.Enabled,
			EnvKeys: d.Masker.EnvKeys(secrets),
		})
	}
	return config.SaveGroupDocument(d.Config.RuntimeHome, doc)
}
