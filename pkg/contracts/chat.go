package contracts

// MessageFormat is the rendering hint for ChatMessage.Text.
type MessageFormat string

const (
	FormatPlain    MessageFormat = "plain"
	FormatMarkdown MessageFormat = "markdown"
)

// Priority controls whether a chat message enters a recipient's pending-ack
// set.
type Priority string

const (
	PriorityNormal    Priority = "normal"
	PriorityAttention Priority = "attention"
)

// Special addressee tokens recognized in ChatMessage.To. Any other
// token is treated as a literal actor_id.
const (
	ToUser    = "user"
	ToAll     = "@all"
	ToPeers   = "@peers"
	ToForeman = "@foreman"
)

// Attachment references blob content by hash; it never embeds the bytes
// themselves.
type Attachment struct {
	SHA256    string `json:"sha256"`
	Bytes     int64  `json:"bytes"`
	Filename  string `json:"filename,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

// ChatMessage is the Data payload of a chat.message event.
type ChatMessage struct {
	Text          string       `json:"text"`
	Format        MessageFormat `json:"format"`
	To            []string     `json:"to"`
	ReplyTo       EventID      `json:"reply_to,omitempty"`
	QuoteText     string       `json:"quote_text,omitempty"`
	Attachments   []Attachment `json:"attachments,omitempty"`
	Priority      Priority     `json:"priority"`
	ReplyRequired bool         `json:"reply_required"`
}

// Validate checks the struct-level invariants of a ChatMessage payload
// before it is handed to the ledger for append. Recipient resolution
// (unknown ids, @all/@peers/@foreman expansion) happens later, in the
// delivery engine, against the live kernel projection — this validation
// only rejects shapes that can never be valid.
func (m ChatMessage) Validate() error {
	if m.Text == "" && len(m.Attachments) == 0 {
		return NewValidationError("text", "chat message must have text or at least one attachment")
	}
	switch m.Format {
	case "", FormatPlain, FormatMarkdown:
	default:
		return NewValidationError("format", "must be plain or markdown")
	}
	switch m.Priority {
	case "", PriorityNormal, PriorityAttention:
	default:
		return NewValidationError("priority", "must be normal or attention")
	}
	for _, a := range m.Attachments {
		if a.SHA256 == "" {
			return NewValidationError("attachments", "attachment missing sha256 reference")
		}
	}
	return nil
}

// ChatRead is the Data payload of a chat.read event: marks everything up to
// and including UpTo as read for Principal.
type ChatRead struct {
	UpTo EventID `json:"up_to"`
}

// ChatAck is the Data payload of a chat.ack event: acknowledges the
// attention-priority event identified by EventID.
type ChatAck struct {
	EventID EventID `json:"event_id"`
}

// SystemNotify is the Data payload of a system.notify event produced by a
// built-in nudge policy or a user rule's notify action.
type SystemNotify struct {
	Reasons   []string `json:"reasons"`
	Recipient string   `json:"recipient"`
	Priority  Priority `json:"priority"`
}

// SystemNotifyAck is the Data payload of a system.notify_ack event.
type SystemNotifyAck struct {
	EventID EventID `json:"event_id"`
}
