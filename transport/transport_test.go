package transport

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestTCPTransportReadExact(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	tr := NewTCP(client)

	go func() {
		server.Write([]byte("hello"))
		server.Write([]byte(" world"))
	}()

	got, err := tr.ReadExact(11)
	if err != nil {
		t.Fatalf("ReadExact: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("got %q, want %q", got, "hello world")
	}
}

func TestTCPTransportClosed(t *testing.T) {
	server, client := net.Pipe()
	tr := NewTCP(client)
	server.Close()

	if _, err := tr.ReadExact(4); err == nil {
		t.Fatal("expected error after close")
	}
}

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// TestWebSocketTransportCrossesFrameBoundaries verifies that ReadExact
// slices a value spanning two independent binary WebSocket frames,
// matching spec §4.1's "read_exact returns slices across frame
// boundaries" requirement.
func TestWebSocketTransportCrossesFrameBoundaries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02, 0x03})
		conn.WriteMessage(websocket.BinaryMessage, []byte{0x04, 0x05})
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	tr, err := DialWebSocket(wsURL)
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}
	defer tr.Close()

	got, err := tr.ReadExact(5)
	if err != nil {
		t.Fatalf("ReadExact: %v", err)
	}
	want := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestWebSocketTransportIgnoresTextFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte("not protocol data"))
		conn.WriteMessage(websocket.BinaryMessage, []byte{0xAA})
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	tr, err := DialWebSocket(wsURL)
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}
	defer tr.Close()

	got, err := tr.ReadExact(1)
	if err != nil {
		t.Fatalf("ReadExact: %v", err)
	}
	if got[0] != 0xAA {
		t.Fatalf("got %v, want [0xAA] (text frame should have been ignored)", got)
	}
}
