package contracts

import "time"

// GroupSettings is the Data payload of a group.settings_update event, and
// the live configuration the delivery & automation engine reads for a
// group. Every field has a documented default; zero-value settings
// fall back to those defaults rather than to Go's zero value, so a
// freshly created group behaves per-spec without an explicit
// settings_update ever being appended.
type GroupSettings struct {
	MinIntervalSeconds  int    `json:"min_interval_seconds,omitempty" yaml:"min_interval_seconds,omitempty"`
	AutoMarkOnDelivery  bool   `json:"auto_mark_on_delivery" yaml:"auto_mark_on_delivery"`
	DefaultSendTo       string `json:"default_send_to,omitempty" yaml:"default_send_to,omitempty"` // "foreman" | "broadcast"

	UnreadNudgeAfterSeconds        int `json:"unread_nudge_after_seconds,omitempty" yaml:"unread_nudge_after_seconds,omitempty"`
	ReplyRequiredNudgeAfterSeconds int `json:"reply_required_nudge_after_seconds,omitempty" yaml:"reply_required_nudge_after_seconds,omitempty"`
	AttentionAckNudgeAfterSeconds  int `json:"attention_ack_nudge_after_seconds,omitempty" yaml:"attention_ack_nudge_after_seconds,omitempty"`
	NudgeDigestMinIntervalSeconds  int `json:"nudge_digest_min_interval_seconds,omitempty" yaml:"nudge_digest_min_interval_seconds,omitempty"`
	NudgeMaxRepeatsPerObligation   int `json:"nudge_max_repeats_per_obligation,omitempty" yaml:"nudge_max_repeats_per_obligation,omitempty"`
	NudgeEscalateAfterRepeats      int `json:"nudge_escalate_after_repeats,omitempty" yaml:"nudge_escalate_after_repeats,omitempty"`

	ActorIdleTimeoutSeconds  int `json:"actor_idle_timeout_seconds,omitempty" yaml:"actor_idle_timeout_seconds,omitempty"`
	KeepaliveDelaySeconds    int `json:"keepalive_delay_seconds,omitempty" yaml:"keepalive_delay_seconds,omitempty"`
	KeepaliveMaxPerActor     int `json:"keepalive_max_per_actor,omitempty" yaml:"keepalive_max_per_actor,omitempty"`
	SilenceTimeoutSeconds    int `json:"silence_timeout_seconds,omitempty" yaml:"silence_timeout_seconds,omitempty"`
	HelpNudgeIntervalSeconds int `json:"help_nudge_interval_seconds,omitempty" yaml:"help_nudge_interval_seconds,omitempty"`
	HelpNudgeMinMessages     int `json:"help_nudge_min_messages,omitempty" yaml:"help_nudge_min_messages,omitempty"`

	TerminalTranscriptVisibility   string `json:"terminal_transcript_visibility,omitempty" yaml:"terminal_transcript_visibility,omitempty"` // off|foreman|all
	TerminalTranscriptNotifyTail   bool   `json:"terminal_transcript_notify_tail,omitempty" yaml:"terminal_transcript_notify_tail,omitempty"`
	TerminalTranscriptNotifyLines  int    `json:"terminal_transcript_notify_lines,omitempty" yaml:"terminal_transcript_notify_lines,omitempty"`

	// HelpNudgeCounterKind selects what the help nudge counts: per-actor
	// inbound chat.message events (the conservative default) versus a
	// future per-MCP-call counter. Kept configurable rather than fixed in
	// code so a later decision doesn't require a wire-format change.
	HelpNudgeCounterKind string `json:"help_nudge_counter_kind,omitempty" yaml:"help_nudge_counter_kind,omitempty"` // "chat_events" (default) | "mcp_calls"
}

// DefaultGroupSettings returns the documented defaults. Callers
// apply this as a base and overlay any fields the group's most recent
// group.settings_update event set.
func DefaultGroupSettings() GroupSettings {
	return GroupSettings{
		MinIntervalSeconds:             0,
		AutoMarkOnDelivery:             false,
		DefaultSendTo:                  "foreman",
		UnreadNudgeAfterSeconds:        900,
		ReplyRequiredNudgeAfterSeconds: 300,
		AttentionAckNudgeAfterSeconds:  600,
		NudgeDigestMinIntervalSeconds:  120,
		NudgeMaxRepeatsPerObligation:   5,
		NudgeEscalateAfterRepeats:      3,
		ActorIdleTimeoutSeconds:        600,
		KeepaliveDelaySeconds:          120,
		KeepaliveMaxPerActor:           3,
		SilenceTimeoutSeconds:          600,
		HelpNudgeIntervalSeconds:       600,
		HelpNudgeMinMessages:           10,
		TerminalTranscriptVisibility:   "foreman",
		TerminalTranscriptNotifyTail:   false,
		TerminalTranscriptNotifyLines:  20,
		HelpNudgeCounterKind:           "chat_events",
	}
}

// Merge overlays non-zero fields of patch onto the receiver and returns the
// result, used to fold a group.settings_update event onto the running
// defaults. The boolean fields AutoMarkOnDelivery and
// TerminalTranscriptNotifyTail are always taken from patch, so an update
// that leaves them unset turns them off.
func (s GroupSettings) Merge(patch GroupSettings) GroupSettings {
	out := s
	if patch.MinIntervalSeconds != 0 {
		out.MinIntervalSeconds = patch.MinIntervalSeconds
	}
	out.AutoMarkOnDelivery = patch.AutoMarkOnDelivery
	if patch.DefaultSendTo != "" {
		out.DefaultSendTo = patch.DefaultSendTo
	}
	if patch.UnreadNudgeAfterSeconds != 0 {
		out.UnreadNudgeAfterSeconds = patch.UnreadNudgeAfterSeconds
	}
	if patch.ReplyRequiredNudgeAfterSeconds != 0 {
		out.ReplyRequiredNudgeAfterSeconds = patch.ReplyRequiredNudgeAfterSeconds
	}
	if patch.AttentionAckNudgeAfterSeconds != 0 {
		out.AttentionAckNudgeAfterSeconds = patch.AttentionAckNudgeAfterSeconds
	}
	if patch.NudgeDigestMinIntervalSeconds != 0 {
		out.NudgeDigestMinIntervalSeconds = patch.NudgeDigestMinIntervalSeconds
	}
	if patch.NudgeMaxRepeatsPerObligation != 0 {
		out.NudgeMaxRepeatsPerObligation = patch.NudgeMaxRepeatsPerObligation
	}
	if patch.NudgeEscalateAfterRepeats != 0 {
		out.NudgeEscalateAfterRepeats = patch.NudgeEscalateAfterRepeats
	}
	if patch.ActorIdleTimeoutSeconds != 0 {
		out.ActorIdleTimeoutSeconds = patch.ActorIdleTimeoutSeconds
	}
	if patch.KeepaliveDelaySeconds != 0 {
		out.KeepaliveDelaySeconds = patch.KeepaliveDelaySeconds
	}
	if patch.KeepaliveMaxPerActor != 0 {
		out.KeepaliveMaxPerActor = patch.KeepaliveMaxPerActor
	}
	if patch.SilenceTimeoutSeconds != 0 {
		out.SilenceTimeoutSeconds = patch.SilenceTimeoutSeconds
	}
	if patch.HelpNudgeIntervalSeconds != 0 {
		out.HelpNudgeIntervalSeconds = patch.HelpNudgeIntervalSeconds
	}
	if patch.HelpNudgeMinMessages != 0 {
		out.HelpNudgeMinMessages = patch.HelpNudgeMinMessages
	}
	if patch.TerminalTranscriptVisibility != "" {
		out.TerminalTranscriptVisibility = patch.TerminalTranscriptVisibility
	}
	out.TerminalTranscriptNotifyTail = patch.TerminalTranscriptNotifyTail
	if patch.TerminalTranscriptNotifyLines != 0 {
		out.TerminalTranscriptNotifyLines = patch.TerminalTranscriptNotifyLines
	}
	if patch.HelpNudgeCounterKind != "" {
		out.HelpNudgeCounterKind = patch.HelpNudgeCounterKind
	}
	return out
}

// GroupSettingsUpdate is the Data payload of a group.settings_update event.
type GroupSettingsUpdate struct {
	Settings GroupSettings `json:"settings" yaml:"settings"`
}

// TriggerKind is the closed set of automation rule trigger shapes.
type TriggerKind string

const (
	TriggerEverySeconds TriggerKind = "every_seconds"
	TriggerCron         TriggerKind = "cron"
	TriggerAt           TriggerKind = "at"
)

// Trigger is a tagged union over the three trigger shapes a rule may use.
type Trigger struct {
	Kind         TriggerKind `json:"kind" yaml:"kind"`
	EverySeconds int         `json:"every_seconds,omitempty" yaml:"every_seconds,omitempty"`
	Cron         string      `json:"cron,omitempty" yaml:"cron,omitempty"`
	At           time.Time   `json:"at,omitempty" yaml:"at,omitempty"`
}

// ActionKind is the closed set of automation rule action shapes.
type ActionKind string

const (
	ActionNotify       ActionKind = "notify"
	ActionGroupState   ActionKind = "group_state"
	ActionActorControl ActionKind = "actor_control"
)

// ActorControlVerb is one of the three lifecycle verbs an actor_control
// rule action may request.
type ActorControlVerb string

const (
	ActorControlStart   ActorControlVerb = "start"
	ActorControlStop    ActorControlVerb = "stop"
	ActorControlRestart ActorControlVerb = "restart"
)

// RuleAction is a tagged union over the three action shapes a rule may
// fire. group_state and actor_control are only valid on an `at` trigger;
// ValidatePayload enforces that when a group.automation_update is appended.
type RuleAction struct {
	Kind ActionKind `json:"kind" yaml:"kind"`

	NotifyRecipients []string `json:"notify_recipients,omitempty" yaml:"notify_recipients,omitempty"`
	NotifyText       string   `json:"notify_text,omitempty" yaml:"notify_text,omitempty"`

	GroupState GroupState `json:"group_state,omitempty" yaml:"group_state,omitempty"`

	ActorControlVerb ActorControlVerb `json:"actor_control_verb,omitempty" yaml:"actor_control_verb,omitempty"`
	ActorControlIDs  []string         `json:"actor_control_ids,omitempty" yaml:"actor_control_ids,omitempty"`
}

// Rule is one entry of a group's automation ruleset.
type Rule struct {
	ID       string            `json:"id" yaml:"id"`
	Trigger  Trigger           `json:"trigger" yaml:"trigger"`
	Action   RuleAction        `json:"action" yaml:"action"`
	Enabled  bool              `json:"enabled" yaml:"enabled"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Ruleset is the full set of user-defined automation rules for a group,
// plus the optimistic-concurrency version updates compare-and-set against.
type Ruleset struct {
	Rules   []Rule `json:"rules" yaml:"rules"`
	Version int    `json:"version" yaml:"version"`
}

// GroupAutomationUpdate is the Data payload of a group.automation_update
// event: a compare-and-set against ExpectedVersion.
type GroupAutomationUpdate struct {
	Ruleset         Ruleset `json:"ruleset" yaml:"ruleset"`
	ExpectedVersion int     `json:"expected_version" yaml:"expected_version"`
}

// Built-in nudge reason codes, used in SystemNotify.Reasons and as the
// digest key for coalescing repeated nudges to the same recipient.
const (
	ReasonUnread          = "unread"
	ReasonReplyRequired   = "reply_required"
	ReasonAttentionAck    = "attention_ack"
	ReasonActorIdle       = "actor_idle"
	ReasonKeepalive       = "keepalive"
	ReasonSilence         = "silence"
	ReasonHelp            = "help"
	ReasonCompaction      = "compaction_suggested"
	ReasonUnknownRecip    = "unknown_recipient"
)
