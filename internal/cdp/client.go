package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// DefaultTimeout is the default timeout for CDP commands.
const DefaultTimeout = 30 * time.Second

// ErrDuplicateHandler is a ConfigError: two handlers were registered for the
// same inbound method. Registration is static and must be unambiguous.
var ErrDuplicateHandler = errors.New("cdp: duplicate handler registration")

// ErrClosed is returned by Send/SendContext once the client has closed.
var ErrClosed = errors.New("cdp: client is closed")

// Client is a CDP protocol client: it owns the single shared WebSocket
// (Transport, C1) and the monotonic command/reply correlation table
// (Command Router, C2). Dispatch of inbound events (C6) happens here too:
// the dispatcher is "the set of registered handlers", each invoked in its
// own goroutine so a suspended command wait never blocks the read loop.
type Client struct {
	conn    Conn
	writeMu sync.Mutex
	msgID   atomic.Int64

	pending sync.Map // map[int64]chan *Response

	handlersMu sync.Mutex
	handlers   map[string]func(Event) // exactly one handler per method

	// OnDispatchError, if set, is called for UnknownMethod, UnmatchedReply,
	// and MalformedMessage conditions (spec §7). Never called concurrently
	// with itself from more than one readLoop (there's only one).
	OnDispatchError func(kind string, err error)

	closed   atomic.Bool
	closedCh chan struct{}
	closeErr error
	closeMu  sync.Mutex

	done chan struct{}
}

// NewClient wraps an already-open connection. The read loop starts
// immediately; Subscribe/Register may be called before or after this.
func NewClient(conn Conn) *Client {
	c := &Client{
		conn:     conn,
		handlers: make(map[string]func(Event)),
		closedCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Dial opens a raw WebSocket to a CDP endpoint. Discovery (HEAD retry,
// GET /json/version) happens one layer up, in package transport.
func Dial(ctx context.Context, wsURL string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to CDP endpoint: %w", err)
	}
	return NewClient(conn), nil
}

// Send sends a command on no particular session (browser-level) and waits
// for the reply, using DefaultTimeout.
func (c *Client) Send(method string, params interface{}) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	return c.SendContext(ctx, method, "", params)
}

// SendToSession sends a command flattened onto sessionId and waits for the
// reply, bounded only by ctx (no DefaultTimeout is applied).
func (c *Client) SendToSession(ctx context.Context, sessionID, method string, params interface{}) (json.RawMessage, error) {
	return c.SendContext(ctx, method, sessionID, params)
}

// SendContext assigns the next monotonic id (strictly greater than any id
// ever used; 1 if none have been sent yet), registers a reply slot, writes
// the frame, and suspends until a reply is deposited, ctx is done, or the
// client closes. Transport loss abandons the wait silently (spec §5/§9 OQ4).
func (c *Client) SendContext(ctx context.Context, method, sessionID string, params interface{}) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	id := c.msgID.Add(1)
	req := Request{ID: id, Method: method, SessionID: sessionID, Params: params}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respCh := make(chan *Response, 1)
	c.pending.Store(id, respCh)
	defer c.pending.Delete(id)

	c.writeMu.Lock()
	err = c.conn.Write(ctx, websocket.MessageText, data)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("command timed out: %w", ctx.Err())
	case <-c.closedCh:
		return nil, ErrClosed
	}
}

// Register installs the single handler for an inbound CDP method. Calling
// it twice for the same method is a ConfigError, surfaced immediately
// rather than silently overwriting — the dispatcher's registration is
// static and duplicate registration is a startup bug, not a runtime one.
func (c *Client) Register(method string, handler func(Event)) error {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	if _, exists := c.handlers[method]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, method)
	}
	c.handlers[method] = handler
	return nil
}

// Subscribe is Register without the duplicate check, for tests and for
// secondary observers (e.g. diagnostics) that don't participate in the
// audit taxonomy.
func (c *Client) Subscribe(method string, handler func(Event)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[method] = handler
}

// Close closes the connection and waits for the read loop to exit.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.closedCh)

	c.closeMu.Lock()
	err := c.conn.Close(websocket.StatusNormalClosure, "client closing")
	c.closeMu.Unlock()

	<-c.done
	return err
}

// Err returns the error that caused the client to close, if any.
func (c *Client) Err() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closeErr
}

func (c *Client) readLoop() {
	defer close(c.done)

	ctx := context.Background()
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if !c.closed.Swap(true) {
				c.closeMu.Lock()
				c.closeErr = err
				c.closeMu.Unlock()
				close(c.closedCh)
			}
			return
		}

		resp, evt, err := parseMessage(data)
		if err != nil {
			c.reportError("MalformedMessage", err)
			continue
		}

		if resp != nil {
			c.dispatchResponse(resp)
		} else if evt != nil {
			c.dispatchEvent(evt)
		}
	}
}

func (c *Client) dispatchResponse(resp *Response) {
	ch, ok := c.pending.Load(resp.ID)
	if !ok {
		c.reportError("UnmatchedReply", fmt.Errorf("reply id %d has no pending command", resp.ID))
		return
	}
	respCh := ch.(chan *Response)
	select {
	case respCh <- resp:
	default:
	}
}

// dispatchEvent looks up the single registered handler for evt.Method and
// invokes it in its own goroutine, so a handler awaiting a command reply
// never blocks this read loop from delivering further events.
func (c *Client) dispatchEvent(evt *Event) {
	c.handlersMu.Lock()
	handler, ok := c.handlers[evt.Method]
	c.handlersMu.Unlock()

	if !ok {
		c.reportError("UnknownMethod", fmt.Errorf("no handler registered for %s", evt.Method))
		return
	}
	go handler(*evt)
}

func (c *Client) reportError(kind string, err error) {
	if c.OnDispatchError != nil {
		c.OnDispatchError(kind, err)
	}
}
