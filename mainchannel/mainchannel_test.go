package mainchannel

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

func encodeMainInit(sessionID, agentTokens uint32) []byte {
	buf := make([]byte, wire.MainInitSize)
	binary.LittleEndian.PutUint32(buf[0:4], sessionID)
	binary.LittleEndian.PutUint32(buf[4:8], 3) // display_channels_hint
	binary.LittleEndian.PutUint32(buf[8:12], wire.MouseModeServer|wire.MouseModeClient)
	binary.LittleEndian.PutUint32(buf[12:16], wire.MouseModeServer)
	binary.LittleEndian.PutUint32(buf[16:20], 0) // agent_connected
	binary.LittleEndian.PutUint32(buf[20:24], agentTokens)
	binary.LittleEndian.PutUint32(buf[24:28], 0) // multi_media_time
	binary.LittleEndian.PutUint32(buf[28:32], 0) // ram_hint
	return buf
}

func encodeChannelsList(descs []wire.ChannelDescriptor) []byte {
	buf := make([]byte, 4+2*len(descs))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(descs)))
	for i, d := range descs {
		buf[4+i*2] = d.Type
		buf[4+i*2+1] = d.ID
	}
	return buf
}

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

// TestMainBootstrapSendsAttachChannels covers testable property #4: the
// client must send ATTACH_CHANNELS immediately after MAIN_INIT.
func TestMainBootstrapSendsAttachChannels(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	m := New(nil)
	ch := channel.New(wire.ChannelMain, 0, transport.NewTCP(clientConn), m, nil)
	m.SetChannel(ch)

	done := make(chan error, 1)
	go func() { done <- ch.Run() }()

	writeMessage(t, serverConn, wire.MsgMainInit, encodeMainInit(0x57FD1F78, 10))

	msgType, body := readMessage(t, serverConn)
	if msgType != wire.MsgcMainAttachChannels {
		t.Fatalf("first message after MAIN_INIT was type %d, want ATTACH_CHANNELS (%d)", msgType, wire.MsgcMainAttachChannels)
	}
	if len(body) != 0 {
		t.Fatalf("ATTACH_CHANNELS body len = %d, want 0", len(body))
	}

	ch.Close()
	<-done
}

// TestMainChannelsListScenario covers scenario S3: MAIN_INIT ->
// ATTACH_CHANNELS -> CHANNELS_LIST, ending with the callback receiving
// the session id and three channel descriptors.
func TestMainChannelsListScenario(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	m := New(nil)
	gotCh := make(chan struct {
		sessionID uint32
		channels  []wire.ChannelDescriptor
	}, 1)
	m.OnChannelsList = func(sessionID uint32, channels []wire.ChannelDescriptor) {
		gotCh <- struct {
			sessionID uint32
			channels  []wire.ChannelDescriptor
		}{sessionID, channels}
	}

	ch := channel.New(wire.ChannelMain, 0, transport.NewTCP(clientConn), m, nil)
	m.SetChannel(ch)

	done := make(chan error, 1)
	go func() { done <- ch.Run() }()

	writeMessage(t, serverConn, wire.MsgMainInit, encodeMainInit(0x57FD1F78, 10))
	readMessage(t, serverConn) // ATTACH_CHANNELS

	descs := []wire.ChannelDescriptor{
		{Type: wire.ChannelDisplay, ID: 0},
		{Type: wire.ChannelInputs, ID: 0},
		{Type: wire.ChannelCursor, ID: 0},
	}
	writeMessage(t, serverConn, wire.MsgMainChannelsList, encodeChannelsList(descs))

	select {
	case got := <-gotCh:
		if got.sessionID != 0x57FD1F78 {
			t.Fatalf("session id = %#x, want 0x57FD1F78", got.sessionID)
		}
		if len(got.channels) != 3 {
			t.Fatalf("got %d channels, want 3", len(got.channels))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnChannelsList callback")
	}

	ch.Close()
	<-done
}

func TestAgentTokenAccounting(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	m := New(nil)
	ch := channel.New(wire.ChannelMain, 0, transport.NewTCP(clientConn), m, nil)
	m.SetChannel(ch)

	done := make(chan error, 1)
	go func() { done <- ch.Run() }()

	writeMessage(t, serverConn, wire.MsgMainInit, encodeMainInit(1, 1))
	readMessage(t, serverConn) // ATTACH_CHANNELS

	envelope := make([]byte, wire.AgentEnvelopeHeaderSize)
	writeMessage(t, serverConn, wire.MsgMainAgentData, envelope)

	msgType, body := readMessage(t, serverConn)
	if msgType != wire.MsgcMainAgentToken {
		t.Fatalf("expected AGENT_TOKEN top-up after low watermark, got type %d", msgType)
	}
	if n, ok := wire.DecodeAgentToken(body); !ok || n == 0 {
		t.Fatalf("expected positive token credit, got %d ok=%v", n, ok)
	}

	ch.Close()
	<-done
}
