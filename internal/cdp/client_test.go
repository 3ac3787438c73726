package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// mockConn implements Conn for testing, feeding pre-queued frames to Read
// and recording everything written.
type mockConn struct {
	mu      sync.Mutex
	readCh  chan []byte
	written [][]byte
	closed  bool
	closeCh chan struct{}
}

func newMockConn(messages ...[]byte) *mockConn {
	m := &mockConn{
		readCh:  make(chan []byte, len(messages)+10),
		closeCh: make(chan struct{}),
	}
	for _, msg := range messages {
		m.readCh <- msg
	}
	return m
}

func (m *mockConn) push(msg []byte) {
	m.readCh <- msg
}

func (m *mockConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case data := <-m.readCh:
		return websocket.MessageText, data, nil
	case <-m.closeCh:
		return 0, nil, errors.New("connection closed")
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (m *mockConn) Write(ctx context.Context, typ websocket.MessageType, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(p))
	copy(cp, p)
	m.written = append(m.written, cp)
	return nil
}

func (m *mockConn) Close(code websocket.StatusCode, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.closeCh)
	}
	return nil
}

func (m *mockConn) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.written)
}

func (m *mockConn) lastWritten() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.written) == 0 {
		return nil
	}
	return m.written[len(m.written)-1]
}

func TestSendContextAssignsMonotonicIDs(t *testing.T) {
	conn := newMockConn()
	c := NewClient(conn)
	defer c.Close()

	// Respond to every id with a matching reply, deposited as the client writes.
	go func() {
		for i := 0; i < 3; i++ {
			for {
				if conn.writeCount() > i {
					break
				}
				time.Sleep(time.Millisecond)
			}
			var req Request
			_ = json.Unmarshal(conn.lastWritten(), &req)
			reply, _ := json.Marshal(Response{ID: req.ID, Result: json.RawMessage(`{}`)})
			conn.push(reply)
		}
	}()

	var lastID int64
	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := c.SendContext(ctx, "Some.method", "", nil)
		cancel()
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	conn.mu.Lock()
	written := append([][]byte(nil), conn.written...)
	conn.mu.Unlock()
	if len(written) != 3 {
		t.Fatalf("expected 3 requests written, got %d", len(written))
	}
	for i, data := range written {
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			t.Fatalf("unmarshal request %d: %v", i, err)
		}
		if req.ID <= lastID {
			t.Fatalf("request %d: id %d is not greater than previous id %d", i, req.ID, lastID)
		}
		lastID = req.ID
	}
}

func TestSendContextFirstIDIsOne(t *testing.T) {
	conn := newMockConn()
	c := NewClient(conn)
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if conn.writeCount() > 0 {
				break
			}
			time.Sleep(time.Millisecond)
		}
		var req Request
		_ = json.Unmarshal(conn.lastWritten(), &req)
		if req.ID != 1 {
			t.Errorf("expected first id 1, got %d", req.ID)
		}
		reply, _ := json.Marshal(Response{ID: req.ID, Result: json.RawMessage(`{}`)})
		conn.push(reply)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.SendContext(ctx, "Target.attachToBrowserTarget", "", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	<-done
}

func TestSendContextTimesOut(t *testing.T) {
	conn := newMockConn()
	c := NewClient(conn)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.SendContext(ctx, "Never.replies", "", nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestDuplicateHandlerRegistrationIsConfigError(t *testing.T) {
	conn := newMockConn()
	c := NewClient(conn)
	defer c.Close()

	if err := c.Register("Page.frameAttached", func(Event) {}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := c.Register("Page.frameAttached", func(Event) {})
	if !errors.Is(err, ErrDuplicateHandler) {
		t.Fatalf("expected ErrDuplicateHandler, got %v", err)
	}
}

func TestDispatchEventInvokesRegisteredHandler(t *testing.T) {
	conn := newMockConn()
	c := NewClient(conn)
	defer c.Close()

	got := make(chan Event, 1)
	if err := c.Register("Page.frameAttached", func(evt Event) { got <- evt }); err != nil {
		t.Fatalf("register: %v", err)
	}

	evt, _ := json.Marshal(map[string]any{
		"method": "Page.frameAttached",
		"params": map[string]any{"frameId": "F1"},
	})
	conn.push(evt)

	select {
	case e := <-got:
		if e.Method != "Page.frameAttached" {
			t.Fatalf("unexpected method: %s", e.Method)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestUnknownMethodReportedAndDropped(t *testing.T) {
	conn := newMockConn()
	c := NewClient(conn)
	defer c.Close()

	errs := make(chan string, 1)
	c.OnDispatchError = func(kind string, err error) {
		select {
		case errs <- kind:
		default:
		}
	}

	evt, _ := json.Marshal(map[string]any{"method": "Totally.unheardof", "params": map[string]any{}})
	conn.push(evt)

	select {
	case kind := <-errs:
		if kind != "UnknownMethod" {
			t.Fatalf("expected UnknownMethod, got %s", kind)
		}
	case <-time.After(time.Second):
		t.Fatal("expected dispatch error for unknown method")
	}
}

func TestUnmatchedReplyReportedAndDropped(t *testing.T) {
	conn := newMockConn()
	c := NewClient(conn)
	defer c.Close()

	errs := make(chan string, 1)
	c.OnDispatchError = func(kind string, err error) {
		select {
		case errs <- kind:
		default:
		}
	}

	reply, _ := json.Marshal(Response{ID: 999, Result: json.RawMessage(`{}`)})
	conn.push(reply)

	select {
	case kind := <-errs:
		if kind != "UnmatchedReply" {
			t.Fatalf("expected UnmatchedReply, got %s", kind)
		}
	case <-time.After(time.Second):
		t.Fatal("expected dispatch error for unmatched reply")
	}
}

func TestMalformedMessageReportedAndDropped(t *testing.T) {
	conn := newMockConn()
	c := NewClient(conn)
	defer c.Close()

	errs := make(chan string, 1)
	c.OnDispatchError = func(kind string, err error) {
		select {
		case errs <- kind:
		default:
		}
	}

	conn.push([]byte(`not json`))

	select {
	case kind := <-errs:
		if kind != "MalformedMessage" {
			t.Fatalf("expected MalformedMessage, got %s", kind)
		}
	case <-time.After(time.Second):
		t.Fatal("expected dispatch error for malformed message")
	}
}

func TestCloseAbandonsPendingSend(t *testing.T) {
	conn := newMockConn()
	c := NewClient(conn)

	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := c.SendContext(ctx, "Never.replies", "", nil)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected error after close")
		}
	case <-time.After(time.Second):
		t.Fatal("send never returned after close")
	}
}
