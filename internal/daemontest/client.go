package daemontest

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cccc-dev/cccc/pkg/contracts"
	"github.com/cccc-dev/cccc/pkg/ipc"
)

// Client is a minimal driver for the daemon's length-prefixed JSON frame
// protocol, used by tests in place of a real platform adapter or CLI.
type Client struct {
	conn net.Conn
	fr   *ipc.FrameReader
	fw   *ipc.FrameWriter

	writeMu sync.Mutex
	nextID  int64

	mu       sync.Mutex
	pending  map[string]chan ipc.ResponseFrame
	subs     map[string]chan ipc.EventFrame
	readErr  error
	closedCh chan struct{}
}

func dial(addr string) (*Client, error) {
	conn, err := net.Dial("unix", addr)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:     conn,
		fr:       ipc.NewFrameReader(conn),
		fw:       ipc.NewFrameWriter(conn),
		pending:  make(map[string]chan ipc.ResponseFrame),
		subs:     make(map[string]chan ipc.EventFrame),
		closedCh: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.closedCh)
	for {
		payload, err := c.fr.ReadFrame()
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			for id, ch := range c.subs {
				close(ch)
				delete(c.subs, id)
			}
			c.mu.Unlock()
			return
		}

		var head struct {
			Type ipc.FrameType `json:"type"`
			ID   string        `json:"id"`
		}
		if err := json.Unmarshal(payload, &head); err != nil {
			continue
		}

		switch head.Type {
		case ipc.FrameResponse:
			var resp ipc.ResponseFrame
			if err := json.Unmarshal(payload, &resp); err != nil {
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[resp.ID]
			delete(c.pending, resp.ID)
			c.mu.Unlock()
			if ok {
				ch <- resp
			}
		case ipc.FrameEvent, ipc.FrameComplete:
			var evt ipc.EventFrame
			_ = json.Unmarshal(payload, &evt)
			c.mu.Lock()
			ch, ok := c.subs[head.ID]
			c.mu.Unlock()
			if ok {
				evt.Type = head.Type
				ch <- evt
				if head.Type == ipc.FrameComplete {
					c.mu.Lock()
					delete(c.subs, head.ID)
					c.mu.Unlock()
					close(ch)
				}
			}
		}
	}
}

func (c *Client) nextRequestID() string {
	return strconv.FormatInt(atomic.AddInt64(&c.nextID, 1), 10)
}

// Do sends one request and blocks for its response.
func (c *Client) Do(principal contracts.Principal, op string, args interface{}) (json.RawMessage, error) {
	id := c.nextRequestID()
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal args: %w", err)
	}

	ch := make(chan ipc.ResponseFrame, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	req := ipc.RequestFrame{Type: ipc.FrameRequest, ID: id, Op: op, Principal: principal, Args: raw}
	c.writeMu.Lock()
	err = c.fw.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	resp := <-ch
	if resp.Error != nil {
		return nil, resp.Error
	}
	result, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Subscribe opens a live event stream for groupID after cursor after, and
// returns the channel of EventFrame values the session delivers (catch-up
// replay first, then live). The channel closes when the subscription
// completes (cancel or connection teardown).
func (c *Client) Subscribe(groupID string, after contracts.EventID) (id string, events <-chan ipc.EventFrame, err error) {
	id = c.nextRequestID()
	ch := make(chan ipc.EventFrame, 64)
	c.mu.Lock()
	c.subs[id] = ch
	c.mu.Unlock()

	sub := ipc.SubscribeFrame{Type: ipc.FrameSubscribe, ID: id, GroupID: groupID, After: after}
	c.writeMu.Lock()
	err = c.fw.WriteJSON(sub)
	c.writeMu.Unlock()
	if err != nil {
		return "", nil, err
	}
	return id, ch, nil
}

// Cancel stops a subscription by id.
func (c *Client) Cancel(id string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.fw.WriteJSON(ipc.CancelFrame{Type: ipc.FrameCancel, ID: id})
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
