package transport

import (
	"bytes"
	"sync"

	"github.com/gorilla/websocket"

	"spice/spiceerr"
)

// WebSocketTransport adapts a gorilla/websocket connection to the
// Transport interface (spec §4.1). Each inbound binary frame is appended
// to an internal byte buffer by a background reader goroutine; ReadExact
// slices across frame boundaries so callers never need to know where one
// WebSocket message ended and the next began. Text frames and control
// frames other than close are ignored, matching the browser-proxy's
// binary subprotocol (spec §6).
type WebSocketTransport struct {
	conn *websocket.Conn

	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	err    error
	closed bool
}

// NewWebSocket wraps an already-established *websocket.Conn and starts
// the background frame reader.
func NewWebSocket(conn *websocket.Conn) *WebSocketTransport {
	t := &WebSocketTransport{conn: conn}
	t.cond = sync.NewCond(&t.mu)
	go t.readLoop()
	return t
}

// DialWebSocket connects to url and wraps the resulting connection. The
// handshake request carries no extra headers.
func DialWebSocket(url string) (*WebSocketTransport, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocket(conn), nil
}

func (t *WebSocketTransport) readLoop() {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			t.err = spiceerr.ErrClosed
			t.closed = true
			t.cond.Broadcast()
			t.mu.Unlock()
			return
		}
		if msgType != websocket.BinaryMessage {
			// Text and non-close control frames carry no protocol data;
			// ignore per spec §4.1.
			continue
		}
		t.mu.Lock()
		t.buf.Write(data)
		t.cond.Broadcast()
		t.mu.Unlock()
	}
}

// ReadExact blocks until n bytes have accumulated across one or more
// WebSocket binary frames, or the connection closes.
func (t *WebSocketTransport) ReadExact(n int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.buf.Len() < n {
		if t.closed {
			if t.err != nil {
				return nil, t.err
			}
			return nil, spiceerr.ErrClosed
		}
		t.cond.Wait()
	}
	out := make([]byte, n)
	if _, err := t.buf.Read(out); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteAll sends b as a single WebSocket binary frame. The SPICE wire
// format does not require frame boundaries to align with protocol
// message boundaries on write, but sending one frame per write keeps the
// proxy's job simple and matches how every browser SPICE client in
// production behaves.
func (t *WebSocketTransport) WriteAll(b []byte) error {
	return t.conn.WriteMessage(websocket.BinaryMessage, b)
}

// Close closes the underlying WebSocket connection and unblocks any
// pending ReadExact calls.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.cond.Broadcast()
	t.mu.Unlock()
	return t.conn.Close()
}
