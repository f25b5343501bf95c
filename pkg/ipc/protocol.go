package ipc

import (
	"encoding/json"

	"github.com/cccc-dev/cccc/pkg/contracts"
)

// FrameType is the closed set of top-level frame kinds a connection
// exchanges.
type FrameType string

const (
	FrameRequest   FrameType = "request"
	FrameResponse  FrameType = "response"
	FrameSubscribe FrameType = "subscribe"
	FrameEvent     FrameType = "event"
	FrameComplete  FrameType = "complete"
	FrameCancel    FrameType = "cancel"
	FrameErrorType FrameType = "error"
)

// RequestFrame asks the daemon to run one op, as principal, with args
// specific to that op. Requests on one connection are executed strictly in
// arrival order; a client wanting concurrency opens more than one
// connection.
type RequestFrame struct {
	Type      FrameType           `json:"type"`
	ID        string              `json:"id"`
	Op        string              `json:"op"`
	Principal contracts.Principal `json:"principal"`
	Args      json.RawMessage     `json:"args,omitempty"`
}

// ResponseFrame answers a RequestFrame by ID. Result is omitted on error.
type ResponseFrame struct {
	Type   FrameType              `json:"type"`
	ID     string                 `json:"id"`
	Result interface{}            `json:"result,omitempty"`
	Error  *contracts.DomainError `json:"error,omitempty"`
}

// SubscribeFrame opens a live event stream for GroupID. The daemon first
// replays every event strictly after After (from the start of the ledger
// when After is empty) as a catch-up window, then switches to live delivery.
type SubscribeFrame struct {
	Type    FrameType         `json:"type"`
	ID      string            `json:"id"`
	GroupID string            `json:"group_id"`
	After   contracts.EventID `json:"after,omitempty"`
}

// EventFrame carries one committed event to a subscriber. Lagged is set
// (with Event left zero) exactly once when the subscriber has fallen far
// enough behind that the bus dropped events; the client must
// resubscribe and reconcile via a ledger read rather than trust anything
// buffered before this frame.
type EventFrame struct {
	Type   FrameType       `json:"type"`
	ID     string          `json:"id"`
	Event  contracts.Event `json:"event,omitempty"`
	Lagged bool            `json:"lagged,omitempty"`
}

// CompleteFrame signals a subscription ended (cancelled by the client or
// the connection closing); no further EventFrames follow with this ID.
type CompleteFrame struct {
	Type FrameType `json:"type"`
	ID   string    `json:"id"`
}

// CancelFrame asks the daemon to stop an outstanding subscription by ID.
type CancelFrame struct {
	Type FrameType `json:"type"`
	ID   string    `json:"id"`
}

// ErrorFrame reports a connection-level failure not tied to one request
// (malformed frame, auth failure) before the connection closes.
type ErrorFrame struct {
	Type  FrameType              `json:"type"`
	Error *contracts.DomainError `json:"error"`
}
