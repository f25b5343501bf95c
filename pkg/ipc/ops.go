package ipc

import (
	"context"
	"encoding/json"

	"github.com/cccc-dev/cccc/pkg/contracts"
	"github.com/cccc-dev/cccc/pkg/daemon"
	"github.com/cccc-dev/cccc/pkg/ledger"
)

// opFunc decodes a request's args, calls into d, and returns the value to
// marshal as the response's result.
type opFunc func(ctx context.Context, d *daemon.Daemon, principal contracts.Principal, args json.RawMessage) (interface{}, error)

// ops is the full op registry dispatched by op name. Every handler is a
// thin decode-then-call shim; all the actual
// permission checks, state gates, and durability live in pkg/daemon.
var ops = map[string]opFunc{
	"group.create":    opGroupCreate,
	"group.update":    opGroupUpdate,
	"group.attach":    opGroupAttach,
	"group.detach":    opGroupDetach,
	"group.start":     opGroupStart,
	"group.stop":      opGroupStop,
	"group.set_state": opGroupSetState,
	"group.delete":    opGroupDelete,
	"group.list":      opGroupList,
	"group.get":       opGroupGet,

	"actor.add":           opActorAdd,
	"actor.update":        opActorUpdate,
	"actor.start":         opActorStart,
	"actor.stop":          opActorStop,
	"actor.restart":       opActorRestart,
	"actor.remove":        opActorRemove,
	"actor.status":        opActorStatus,
	"actor.terminal_tail": opActorTerminalTail,

	"runtime.list": opRuntimeList,

	"ledger.read":    opLedgerRead,
	"ledger.compact": opLedgerCompact,

	"inbox.list":      opInboxList,
	"inbox.mark_read": opInboxMarkRead,

	"message.send":  opMessageSend,
	"message.ack":   opMessageAck,
	"message.relay": opMessageRelay,

	"context.update": opContextUpdate,

	"settings.get":    opSettingsGet,
	"settings.update": opSettingsUpdate,

	"automation.get":    opAutomationGet,
	"automation.update": opAutomationUpdate,
	"automation.reset":  opAutomationReset,

	"im.get":   opIMGet,
	"im.set":   opIMSet,
	"im.unset": opIMUnset,

	"blob.put": opBlobPut,
	"blob.get": opBlobGet,

	"blueprint.export": opBlueprintExport,
	"blueprint.import": opBlueprintImport,

	"debug.snapshot": opDebugSnapshot,
}

func decodeArgs(args json.RawMessage, v interface{}) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return contracts.NewDomainError(contracts.CodeInvalidPayload, "malformed op args: "+err.Error(), nil)
	}
	return nil
}

// --- group.* ---

func opGroupCreate(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string `json:"group_id"`
		Title   string `json:"title"`
		Topic   string `json:"topic"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.CreateGroup(ctx, p, a.GroupID, a.Title, a.Topic)
}

func opGroupUpdate(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string `json:"group_id"`
		Title   string `json:"title"`
		Topic   string `json:"topic"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.UpdateGroup(ctx, p, a.GroupID, a.Title, a.Topic)
}

func opGroupAttach(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string          `json:"group_id"`
		Scope   contracts.Scope `json:"scope"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.AttachScope(ctx, p, a.GroupID, a.Scope)
}

func opGroupDetach(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID  string `json:"group_id"`
		ScopeKey string `json:"scope_key"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.DetachScope(ctx, p, a.GroupID, a.ScopeKey)
}

func opGroupStart(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string `json:"group_id"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.StartGroup(ctx, p, a.GroupID)
}

func opGroupStop(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string `json:"group_id"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.StopGroup(ctx, p, a.GroupID)
}

func opGroupSetState(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string               `json:"group_id"`
		State   contracts.GroupState `json:"state"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.SetGroupState(ctx, p, a.GroupID, a.State)
}

func opGroupDelete(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string `json:"group_id"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return nil, d.DeleteGroup(ctx, p, a.GroupID)
}

func opGroupList(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	return d.ListGroups(ctx), nil
}

func opGroupGet(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string `json:"group_id"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	view := d.GetGroup(ctx, a.GroupID)
	if view == nil {
		return nil, contracts.NewDomainError(contracts.CodeNoSuchGroup, "no such group", map[string]interface{}{"group_id": a.GroupID})
	}
	return view, nil
}

// --- actor.* ---

func opActorAdd(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string             `json:"group_id"`
		Actor   contracts.ActorAdd `json:"actor"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.AddActor(ctx, p, a.GroupID, a.Actor)
}

func opActorUpdate(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string                `json:"group_id"`
		Update  contracts.ActorUpdate `json:"update"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.UpdateActor(ctx, p, a.GroupID, a.Update)
}

func opActorStart(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string `json:"group_id"`
		ActorID string `json:"actor_id"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return nil, d.StartActor(ctx, p, a.GroupID, a.ActorID)
}

func opActorStop(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string `json:"group_id"`
		ActorID string `json:"actor_id"`
		Reason  string `json:"reason"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return nil, d.StopActor(ctx, p, a.GroupID, a.ActorID, a.Reason)
}

func opActorRestart(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string `json:"group_id"`
		ActorID string `json:"actor_id"`
		Reason  string `json:"reason"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return nil, d.RestartActor(ctx, p, a.GroupID, a.ActorID, a.Reason)
}

func opActorRemove(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string `json:"group_id"`
		ActorID string `json:"actor_id"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return nil, d.RemoveActor(ctx, p, a.GroupID, a.ActorID)
}

func opActorStatus(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string `json:"group_id"`
		ActorID string `json:"actor_id"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	status, ok := d.ActorStatus(ctx, a.GroupID, a.ActorID)
	if !ok {
		return nil, contracts.NewDomainError(contracts.CodeNoSuchActor, "no such actor", map[string]interface{}{"actor_id": a.ActorID})
	}
	return status, nil
}

func opActorTerminalTail(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string `json:"group_id"`
		ActorID string `json:"actor_id"`
		Bytes   int    `json:"bytes"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	text, err := d.TerminalTail(ctx, a.GroupID, a.ActorID, a.Bytes)
	if err != nil {
		return nil, err
	}
	return map[string]string{"text": text}, nil
}

func opRuntimeList(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	return d.ListRuntimes(ctx), nil
}

// --- ledger.* ---

func opLedgerRead(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID       string `json:"group_id"`
		ledger.Filter `json:"filter"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.ReadLedger(ctx, a.GroupID, a.Filter)
}

func opLedgerCompact(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string            `json:"group_id"`
		UpTo    contracts.EventID `json:"up_to"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return nil, d.Compact(ctx, p, a.GroupID, a.UpTo)
}

// --- inbox.* ---

func opInboxList(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string `json:"group_id"`
		Limit   int    `json:"limit"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.Inbox(ctx, p, a.GroupID, a.Limit)
}

func opInboxMarkRead(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string            `json:"group_id"`
		UpTo    contracts.EventID `json:"up_to"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.MarkRead(ctx, p, a.GroupID, a.UpTo)
}

// --- message.* ---

func opMessageSend(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string                `json:"group_id"`
		Message contracts.ChatMessage `json:"message"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.SendMessage(ctx, p, a.GroupID, a.Message)
}

func opMessageAck(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string            `json:"group_id"`
		EventID contracts.EventID `json:"event_id"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.AckMessage(ctx, p, a.GroupID, a.EventID)
}

func opMessageRelay(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		BindingKey string `json:"binding_key"`
		Text       string `json:"text"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.RelayMessage(ctx, a.BindingKey, a.Text)
}

// --- context.* ---

func opContextUpdate(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string                `json:"group_id"`
		Update  daemon.ContextUpdate  `json:"update"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.ApplyContextUpdate(ctx, p, a.GroupID, a.Update)
}

// --- settings.* / automation.* ---

func opSettingsGet(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string `json:"group_id"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.GetSettings(ctx, a.GroupID)
}

func opSettingsUpdate(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID  string                  `json:"group_id"`
		Settings contracts.GroupSettings `json:"settings"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.UpdateSettings(ctx, p, a.GroupID, a.Settings)
}

func opAutomationGet(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string `json:"group_id"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.GetAutomation(ctx, a.GroupID)
}

func opAutomationUpdate(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID         string            `json:"group_id"`
		Ruleset         contracts.Ruleset `json:"ruleset"`
		ExpectedVersion int               `json:"expected_version"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.UpdateAutomation(ctx, p, a.GroupID, a.Ruleset, a.ExpectedVersion)
}

func opAutomationReset(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID         string `json:"group_id"`
		ExpectedVersion int    `json:"expected_version"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.ResetAutomation(ctx, p, a.GroupID, a.ExpectedVersion)
}

// --- im.* ---

func opIMGet(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string `json:"group_id"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.GetIM(ctx, a.GroupID)
}

func opIMSet(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID  string `json:"group_id"`
		Platform string `json:"platform"`
		Channel  string `json:"channel"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.SetIM(ctx, p, a.GroupID, a.Platform, a.Channel)
}

func opIMUnset(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string `json:"group_id"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return nil, d.UnsetIM(ctx, p, a.GroupID)
}

// --- blob.* ---

func opBlobPut(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string `json:"group_id"`
		Data    []byte `json:"data"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.PutBlob(ctx, a.GroupID, a.Data)
}

func opBlobGet(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string `json:"group_id"`
		SHA256  string `json:"sha256"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	data, err := d.GetBlob(ctx, a.GroupID, a.SHA256)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"data": data}, nil
}

// --- blueprint.* ---

func opBlueprintExport(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string `json:"group_id"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	raw, err := d.ExportBlueprint(ctx, a.GroupID)
	if err != nil {
		return nil, err
	}
	return map[string]string{"blueprint": string(raw)}, nil
}

func opBlueprintImport(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID   string `json:"group_id"`
		Blueprint string `json:"blueprint"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.ImportBlueprint(ctx, p, a.GroupID, []byte(a.Blueprint))
}

// --- debug.* ---

func opDebugSnapshot(ctx context.Context, d *daemon.Daemon, p contracts.Principal, args json.RawMessage) (interface{}, error) {
	var a struct {
		GroupID string `json:"group_id"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.Snapshot(ctx, a.GroupID)
}
