package spicetest

import (
	"context"
	"net"
	"testing"
	"time"

	"spice/spiceclient"
	"spice/wire"
)

// drain reads messages from conn until it errors (typically because the
// peer closed the transport), so a script's goroutine exits promptly
// once the client disconnects instead of leaking past the test.
func drain(conn net.Conn) error {
	for {
		if _, _, err := ReadMessage(conn); err != nil {
			return err
		}
	}
}

// TestChannelIndependence covers testable property #11: killing the
// cursor channel's transport must not affect the display or inputs
// channels.
func TestChannelIndependence(t *testing.T) {
	srv, err := NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	cursorConnCh := make(chan net.Conn, 1)

	srv.Handle(wire.ChannelMain, func(conn net.Conn) error {
		if err := WriteMessage(conn, wire.MsgMainInit, EncodeMainInit(0xAA, 1)); err != nil {
			return err
		}
		if _, _, err := ReadMessage(conn); err != nil { // ATTACH_CHANNELS
			return err
		}
		descs := []wire.ChannelDescriptor{
			{Type: wire.ChannelDisplay, ID: 0},
			{Type: wire.ChannelCursor, ID: 0},
			{Type: wire.ChannelInputs, ID: 0},
		}
		if err := WriteMessage(conn, wire.MsgMainChannelsList, EncodeChannelsList(descs)); err != nil {
			return err
		}
		return drain(conn)
	})

	displayUp := make(chan struct{})
	srv.Handle(wire.ChannelDisplay, func(conn net.Conn) error {
		if _, _, err := ReadMessage(conn); err != nil { // MSGC_DISPLAY_INIT
			return err
		}
		close(displayUp)
		if err := WriteMessage(conn, wire.MsgDisplaySurfaceCreate, EncodeSurfaceCreate(0, 16, 16)); err != nil {
			return err
		}
		return drain(conn)
	})

	srv.Handle(wire.ChannelCursor, func(conn net.Conn) error {
		cursorConnCh <- conn
		return drain(conn)
	})

	inputsUp := make(chan struct{})
	gotKeyDown := make(chan uint16, 1)
	srv.Handle(wire.ChannelInputs, func(conn net.Conn) error {
		close(inputsUp)
		mt, _, err := ReadMessage(conn)
		if err != nil {
			return err
		}
		gotKeyDown <- mt
		return drain(conn)
	})

	go func() {
		if err := srv.Serve("tcp", "127.0.0.1:0"); err != nil {
			t.Log(err)
		}
	}()
	// Wait for the listener to be bound before reading its address.
	var addr string
	for i := 0; i < 100 && addr == ""; i++ {
		addr = srv.Addr()
		if addr == "" {
			time.Sleep(5 * time.Millisecond)
		}
	}
	if addr == "" {
		t.Fatal("server never bound a listener")
	}
	defer srv.Shutdown(time.Second)

	dialer := spiceclient.TCPDialer{Addr: addr}
	client := spiceclient.New(dialer, spiceclient.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	client.StartEventLoop()

	select {
	case <-displayUp:
	case <-time.After(time.Second):
		t.Fatal("display channel never came up")
	}
	select {
	case <-inputsUp:
	case <-time.After(time.Second):
		t.Fatal("inputs channel never came up")
	}
	var cursorConn net.Conn
	select {
	case cursorConn = <-cursorConnCh:
	case <-time.After(time.Second):
		t.Fatal("cursor channel never came up")
	}

	// Kill the cursor transport from the server side.
	cursorConn.Close()
	time.Sleep(50 * time.Millisecond)

	// Display and inputs must still be fully usable.
	if err := client.SendKeyDown(0x1E); err != nil {
		t.Fatalf("SendKeyDown after cursor died: %v", err)
	}
	select {
	case mt := <-gotKeyDown:
		if mt != wire.MsgcInputsKeyDown {
			t.Fatalf("inputs: type = %d, want KEY_DOWN", mt)
		}
	case <-time.After(time.Second):
		t.Fatal("server never observed KEY_DOWN after cursor channel died")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s := client.Surface(); s != nil && s.Width == 16 && s.Height == 16 {
			client.Disconnect()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("display surface never appeared after cursor channel died")
}
