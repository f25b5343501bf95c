package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/cccc-dev/cccc/pkg/contracts"
	"github.com/cccc-dev/cccc/pkg/daemon"
	"github.com/cccc-dev/cccc/pkg/ledger"
)

// session owns one connection's worth of protocol state: the shared
// FrameWriter (requests responses and subscription events both write
// through it, so writes are serialized by writeMu), and the set of live
// subscriptions keyed by the SubscribeFrame's ID so a later CancelFrame can
// find and stop the right one.
type session struct {
	conn   io.ReadWriteCloser
	fr     *FrameReader
	fw     *FrameWriter
	writeMu sync.Mutex

	d   *daemon.Daemon
	ctx context.Context

	subMu sync.Mutex
	subs  map[string]context.CancelFunc
}

func newSession(ctx context.Context, conn io.ReadWriteCloser, d *daemon.Daemon) *session {
	return &session{
		conn: conn,
		fr:   NewFrameReader(conn),
		fw:   NewFrameWriter(conn),
		d:    d,
		ctx:  ctx,
		subs: make(map[string]context.CancelFunc),
	}
}

func (s *session) writeFrame(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.fw.WriteJSON(v)
}

// run drives the connection until the peer disconnects or ctx is
// cancelled. Requests are decoded and executed one at a time, in the order
// their frames arrive; a subscribe frame instead hands its
// delivery loop to its own goroutine so a long-lived subscription never
// blocks later requests on the same connection.
func (s *session) run() {
	defer s.closeAllSubs()
	for {
		payload, err := s.fr.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			var fe *FrameError
			if errors.As(err, &fe) {
				_ = s.writeFrame(ErrorFrame{Type: FrameErrorType, Error: contracts.NewDomainError(contracts.CodeInvalidPayload, fe.Error(), nil)})
				if fe.IsFatal() {
					return
				}
				continue
			}
			return
		}

		kind, err := probeType(payload)
		if err != nil {
			_ = s.writeFrame(ErrorFrame{Type: FrameErrorType, Error: contracts.NewDomainError(contracts.CodeInvalidPayload, err.Error(), nil)})
			continue
		}

		switch FrameType(kind) {
		case FrameRequest:
			s.handleRequest(payload)
		case FrameSubscribe:
			s.handleSubscribe(payload)
		case FrameCancel:
			s.handleCancel(payload)
		default:
			_ = s.writeFrame(ErrorFrame{Type: FrameErrorType, Error: contracts.NewDomainError(contracts.CodeInvalidPayload, "unexpected frame type: "+kind, nil)})
		}
	}
}

func (s *session) handleRequest(payload []byte) {
	var req RequestFrame
	if err := json.Unmarshal(payload, &req); err != nil {
		_ = s.writeFrame(ErrorFrame{Type: FrameErrorType, Error: contracts.NewDomainError(contracts.CodeInvalidPayload, "malformed request frame", nil)})
		return
	}

	fn, ok := ops[req.Op]
	if !ok {
		_ = s.writeFrame(ResponseFrame{Type: FrameResponse, ID: req.ID, Error: contracts.NewDomainError(contracts.CodeUnknownOp, "unknown op: "+req.Op, nil)})
		return
	}

	result, err := s.invoke(fn, req)
	resp := ResponseFrame{Type: FrameResponse, ID: req.ID}
	if err != nil {
		resp.Error = contracts.ToDomainError(err, req.ID)
	} else {
		resp.Result = result
	}
	_ = s.writeFrame(resp)
}

// invoke recovers a handler panic into an internal_error response rather
// than letting it take down the connection (or the whole daemon, if the
// handler happened to run on the accept goroutine).
func (s *session) invoke(fn opFunc, req RequestFrame) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("ipc handler panic", "op", req.Op, "id", req.ID, "recovered", r)
			err = contracts.NewDomainError(contracts.CodeInternalError, "internal error", map[string]interface{}{"correlation_id": req.ID})
		}
	}()
	return fn(s.ctx, s.d, req.Principal, req.Args)
}

func (s *session) handleSubscribe(payload []byte) {
	var sub SubscribeFrame
	if err := json.Unmarshal(payload, &sub); err != nil {
		_ = s.writeFrame(ErrorFrame{Type: FrameErrorType, Error: contracts.NewDomainError(contracts.CodeInvalidPayload, "malformed subscribe frame", nil)})
		return
	}

	subCtx, cancel := context.WithCancel(s.ctx)
	s.subMu.Lock()
	s.subs[sub.ID] = cancel
	s.subMu.Unlock()

	go s.runSubscription(subCtx, sub)
}

func (s *session) handleCancel(payload []byte) {
	var c CancelFrame
	if err := json.Unmarshal(payload, &c); err != nil {
		return
	}
	s.subMu.Lock()
	cancel, ok := s.subs[c.ID]
	delete(s.subs, c.ID)
	s.subMu.Unlock()
	if ok {
		cancel()
	}
}

func (s *session) closeAllSubs() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, cancel := range s.subs {
		cancel()
		delete(s.subs, id)
	}
}

// runSubscription replays sub.After's catch-up window from the ledger, then
// relays the bus's live feed for groupID until subCtx is cancelled (by a
// CancelFrame or connection teardown) or the bus reports the subscriber
// lagged, at which point it emits one Lagged EventFrame and stops: the
// client must resubscribe and reconcile via a ledger read rather
// than trust anything the daemon might buffer on its behalf.
func (s *session) runSubscription(subCtx context.Context, sub SubscribeFrame) {
	defer s.finishSubscription(sub.ID)

	bsub, err := s.d.Bus.Subscribe(subCtx, sub.GroupID)
	if err != nil {
		_ = s.writeFrame(ResponseFrame{Type: FrameResponse, ID: sub.ID, Error: contracts.ToDomainError(err, sub.ID)})
		return
	}
	defer bsub.Close()

	after := sub.After
	catchup, hit := s.d.Bus.RecentSince(sub.GroupID, after)
	for cursor := after; !hit; {
		page, err := s.d.ReadLedger(subCtx, sub.GroupID, ledger.Filter{After: cursor})
		if err != nil {
			_ = s.writeFrame(ResponseFrame{Type: FrameResponse, ID: sub.ID, Error: contracts.ToDomainError(err, sub.ID)})
			return
		}
		catchup = append(catchup, page.Events...)
		if !page.HasAfter || len(page.Events) == 0 {
			break
		}
		cursor = page.Events[len(page.Events)-1].ID
	}
	for _, evt := range catchup {
		if err := s.writeFrame(EventFrame{Type: FrameEvent, ID: sub.ID, Event: evt}); err != nil {
			return
		}
		after = evt.ID
	}

	for {
		select {
		case <-subCtx.Done():
			return
		case evt, ok := <-bsub.C:
			if !ok {
				return
			}
			if bsub.Lagged() {
				_ = s.writeFrame(EventFrame{Type: FrameEvent, ID: sub.ID, Lagged: true})
				bsub.ClearLagged()
				return
			}
			if evt.ID <= after {
				continue // already delivered in the catch-up window
			}
			if err := s.writeFrame(EventFrame{Type: FrameEvent, ID: sub.ID, Event: evt}); err != nil {
				return
			}
			after = evt.ID
		}
	}
}

func (s *session) finishSubscription(id string) {
	s.subMu.Lock()
	delete(s.subs, id)
	s.subMu.Unlock()
	_ = s.writeFrame(CompleteFrame{Type: FrameComplete, ID: id})
}
