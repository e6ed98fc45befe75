package inputs

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"spice/channel"
	"spice/transport"
	"spice/wire"
)

func writeMessage(t *testing.T, conn net.Conn, msgType uint16, body []byte) {
	t.Helper()
	header := wire.DataHeader{Serial: 1, Type: msgType, Size: uint32(len(body))}
	var buf bytes.Buffer
	header.Encode(&buf)
	buf.Write(body)
	if _, err := conn.Write(buf.Bytes()); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readMessage(t *testing.T, conn net.Conn) (uint16, []byte) {
	t.Helper()
	hdrBuf := make([]byte, wire.DataHeaderSize)
	if _, err := io.ReadFull(conn, hdrBuf); err != nil {
		t.Fatalf("read header: %v", err)
	}
	header, err := wire.DecodeDataHeader(bytes.NewReader(hdrBuf))
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	body := make([]byte, header.Size)
	if header.Size > 0 {
		if _, err := io.ReadFull(conn, body); err != nil {
			t.Fatalf("read body: %v", err)
		}
	}
	return header.Type, body
}

func newTestInputs() (*Inputs, net.Conn, *channel.Channel, chan error) {
	serverConn, clientConn := net.Pipe()
	in := New(nil, 4, 0)
	ch := channel.New(wire.ChannelInputs, 0, transport.NewTCP(clientConn), in, nil)
	in.Bind(ch)
	done := make(chan error, 1)
	go func() { done <- ch.Run() }()
	return in, serverConn, ch, done
}

func TestInputsInitUpdatesState(t *testing.T) {
	in, serverConn, ch, done := newTestInputs()
	defer serverConn.Close()

	body := make([]byte, 2)
	binary.LittleEndian.PutUint16(body, 0x03)
	writeMessage(t, serverConn, wire.MsgInputsInit, body)
	time.Sleep(20 * time.Millisecond)

	if got := in.State().KeyboardModifiers; got != 0x03 {
		t.Fatalf("modifiers = %#x, want 0x03", got)
	}

	ch.Close()
	<-done
}

func TestSendKeyDownUp(t *testing.T) {
	in, serverConn, ch, done := newTestInputs()
	defer serverConn.Close()

	if err := in.SendKeyDown(0x1E); err != nil {
		t.Fatalf("SendKeyDown: %v", err)
	}
	msgType, body := readMessage(t, serverConn)
	if msgType != wire.MsgcInputsKeyDown {
		t.Fatalf("type = %d, want KEY_DOWN", msgType)
	}
	if binary.LittleEndian.Uint32(body) != 0x1E {
		t.Fatalf("code = %#x, want 0x1E", binary.LittleEndian.Uint32(body))
	}

	if err := in.SendKeyUp(0x1E); err != nil {
		t.Fatalf("SendKeyUp: %v", err)
	}
	msgType, _ = readMessage(t, serverConn)
	if msgType != wire.MsgcInputsKeyUp {
		t.Fatalf("type = %d, want KEY_UP", msgType)
	}

	ch.Close()
	<-done
}

func TestSendMousePressRelease(t *testing.T) {
	in, serverConn, ch, done := newTestInputs()
	defer serverConn.Close()

	if err := in.SendMousePress(wire.MouseButtonLeft, 0x01); err != nil {
		t.Fatalf("SendMousePress: %v", err)
	}
	msgType, body := readMessage(t, serverConn)
	if msgType != wire.MsgcInputsMousePress {
		t.Fatalf("type = %d, want MOUSE_PRESS", msgType)
	}
	if body[0] != wire.MouseButtonLeft {
		t.Fatalf("button = %d, want LEFT", body[0])
	}

	if err := in.SendMouseRelease(wire.MouseButtonLeft, 0); err != nil {
		t.Fatalf("SendMouseRelease: %v", err)
	}
	msgType, _ = readMessage(t, serverConn)
	if msgType != wire.MsgcInputsMouseRelease {
		t.Fatalf("type = %d, want MOUSE_RELEASE", msgType)
	}

	ch.Close()
	<-done
}

func TestSendMousePosition(t *testing.T) {
	in, serverConn, ch, done := newTestInputs()
	defer serverConn.Close()

	if err := in.SendMousePosition(100, 200, 0, 0); err != nil {
		t.Fatalf("SendMousePosition: %v", err)
	}
	msgType, body := readMessage(t, serverConn)
	if msgType != wire.MsgcInputsMousePosition {
		t.Fatalf("type = %d, want MOUSE_POSITION", msgType)
	}
	x := int32(binary.LittleEndian.Uint32(body[0:4]))
	y := int32(binary.LittleEndian.Uint32(body[4:8]))
	if x != 100 || y != 200 {
		t.Fatalf("position = (%d,%d), want (100,200)", x, y)
	}

	ch.Close()
	<-done
}

func TestUnboundSendFails(t *testing.T) {
	in := New(nil, 0, 0)
	if err := in.SendKeyDown(1); err == nil {
		t.Fatal("expected error sending on an unbound inputs handler")
	}
}
