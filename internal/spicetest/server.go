// Package spicetest is a scripted mock SPICE server used only by this
// module's own tests to drive end-to-end scenarios across real TCP
// connections: one accepted connection per channel, the link phase
// played for real against a generated RSA key, then control handed to
// a per-channel-type script.
//
// The accept loop, per-connection goroutine, and graceful Shutdown via
// sync.WaitGroup plus a timeout follow the familiar TCP-server shape.
// What does not carry over is reflection-based service dispatch — SPICE
// channels are scripted message sequences, not RPC method calls, so a
// Script replaces a business-method handler lookup.
package spicetest

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"spice/wire"
)

// Script plays the server side of one channel's traffic after its link
// phase has completed. conn is the raw, already-linked connection.
type Script func(conn net.Conn) error

// Server accepts one TCP connection per channel, completes its link
// phase, and dispatches to the Script registered for that connection's
// LinkMess.ChannelType.
type Server struct {
	priv     *rsa.PrivateKey
	listener net.Listener
	wg       sync.WaitGroup
	shutdown atomic.Bool

	mu       sync.Mutex
	scripts  map[uint8]Script
	linkErrs map[uint8]uint32 // optional per-channel-type forced LinkReplyData.Error

	// OnLinkError, if set, is called with any error encountered driving
	// a connection's link phase or script (connection drops, scripted
	// failures).
	OnLinkError func(channelType uint8, err error)
}

// NewServer generates a fresh RSA-1024 key (matching the real ticket
// cipher's key size, spec §4.3) and returns an unstarted Server.
func NewServer() (*Server, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		return nil, fmt.Errorf("spicetest: generating server key: %w", err)
	}
	return &Server{
		priv:     priv,
		scripts:  make(map[uint8]Script),
		linkErrs: make(map[uint8]uint32),
	}, nil
}

// Handle registers the Script run for every connection whose LinkMess
// names channelType.
func (s *Server) Handle(channelType uint8, script Script) {
	s.mu.Lock()
	s.scripts[channelType] = script
	s.mu.Unlock()
}

// RejectLink makes every future link attempt for channelType fail with
// the given LinkReplyData.Error code instead of proceeding to auth —
// used to script scenario S2 (bad/rejected link) per channel type.
func (s *Server) RejectLink(channelType uint8, errCode uint32) {
	s.mu.Lock()
	s.linkErrs[channelType] = errCode
	s.mu.Unlock()
}

// Serve listens on addr and accepts connections until Shutdown is
// called.
func (s *Server) Serve(network, addr string) error {
	listener, err := net.Listen(network, addr)
	if err != nil {
		return err
	}
	s.listener = listener

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Addr returns the listener's address once Serve has started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	channelType, err := s.link(conn)
	if err != nil {
		s.reportErr(channelType, err)
		return
	}

	s.mu.Lock()
	script := s.scripts[channelType]
	s.mu.Unlock()
	if script == nil {
		s.reportErr(channelType, fmt.Errorf("spicetest: no script registered for channel type %d", channelType))
		return
	}
	if err := script(conn); err != nil {
		s.reportErr(channelType, err)
	}
}

func (s *Server) reportErr(channelType uint8, err error) {
	if s.OnLinkError != nil {
		s.OnLinkError(channelType, err)
	}
}

// link plays the server half of the handshake (spec §4.3): read
// LinkHeader+LinkMess+caps, reply with LinkReplyData carrying the
// server's public key (or a forced error), read the auth mechanism and
// 128-byte ciphertext without attempting to decrypt it (this harness
// never rejects on password — handshake package's own tests already
// cover ErrAuthFailed against a real RSA round trip), and send a
// zero link result.
func (s *Server) link(conn net.Conn) (uint8, error) {
	header, err := wire.DecodeLinkHeader(conn)
	if err != nil {
		return 0, err
	}
	rest := make([]byte, header.Size)
	if _, err := io.ReadFull(conn, rest); err != nil {
		return 0, err
	}
	r := bytes.NewReader(rest)
	mess, err := wire.DecodeLinkMess(r)
	if err != nil {
		return 0, err
	}
	if _, err := wire.DecodeCaps(r, mess.NumCommonCaps); err != nil {
		return 0, err
	}
	if _, err := wire.DecodeCaps(r, mess.NumChannelCaps); err != nil {
		return 0, err
	}

	s.mu.Lock()
	forcedErr := s.linkErrs[mess.ChannelType]
	s.mu.Unlock()

	der, err := x509.MarshalPKIXPublicKey(&s.priv.PublicKey)
	if err != nil {
		return mess.ChannelType, err
	}
	var pubKey [wire.PubKeySize]byte
	if len(der) != wire.PubKeySize {
		return mess.ChannelType, fmt.Errorf("spicetest: server key DER is %d bytes, want %d", len(der), wire.PubKeySize)
	}
	copy(pubKey[:], der)

	reply := wire.LinkReplyData{Error: forcedErr, PubKey: pubKey, CapsOffset: wire.LinkReplyDataSize}
	var body bytes.Buffer
	reply.Encode(&body)
	replyHeader := wire.LinkHeader{Major: 2, Minor: 2, Size: uint32(body.Len())}
	if err := replyHeader.Encode(conn); err != nil {
		return mess.ChannelType, err
	}
	if _, err := conn.Write(body.Bytes()); err != nil {
		return mess.ChannelType, err
	}
	if forcedErr != 0 {
		return mess.ChannelType, nil
	}

	authBuf := make([]byte, wire.LinkAuthMechanismSize)
	if _, err := io.ReadFull(conn, authBuf); err != nil {
		return mess.ChannelType, err
	}
	ciphertext := make([]byte, 128)
	if _, err := io.ReadFull(conn, ciphertext); err != nil {
		return mess.ChannelType, err
	}
	if _, err := conn.Write([]byte{0, 0, 0, 0}); err != nil {
		return mess.ChannelType, err
	}
	return mess.ChannelType, nil
}

// Shutdown stops accepting new connections and waits up to timeout for
// in-flight scripts to finish.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.shutdown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("spicetest: timeout waiting for scripts to finish")
	}
}

// WriteMessage writes one channel-layer message (spec §4.4 DataHeader +
// body) to conn.
func WriteMessage(conn net.Conn, msgType uint16, body []byte) error {
	header := wire.DataHeader{Serial: 1, Type: msgType, Size: uint32(len(body))}
	var buf bytes.Buffer
	if err := header.Encode(&buf); err != nil {
		return err
	}
	buf.Write(body)
	_, err := conn.Write(buf.Bytes())
	return err
}

// ReadMessage reads one channel-layer message from conn.
func ReadMessage(conn net.Conn) (uint16, []byte, error) {
	hdrBuf := make([]byte, wire.DataHeaderSize)
	if _, err := io.ReadFull(conn, hdrBuf); err != nil {
		return 0, nil, err
	}
	header, err := wire.DecodeDataHeader(bytes.NewReader(hdrBuf))
	if err != nil {
		return 0, nil, err
	}
	body := make([]byte, header.Size)
	if header.Size > 0 {
		if _, err := io.ReadFull(conn, body); err != nil {
			return 0, nil, err
		}
	}
	return header.Type, body, nil
}

// EncodeMainInit builds a MAIN_INIT body.
func EncodeMainInit(sessionID, agentTokens uint32) []byte {
	buf := make([]byte, wire.MainInitSize)
	binary.LittleEndian.PutUint32(buf[0:4], sessionID)
	binary.LittleEndian.PutUint32(buf[4:8], 1)
	binary.LittleEndian.PutUint32(buf[8:12], wire.MouseModeServer|wire.MouseModeClient)
	binary.LittleEndian.PutUint32(buf[12:16], wire.MouseModeServer)
	binary.LittleEndian.PutUint32(buf[20:24], agentTokens)
	return buf
}

// EncodeChannelsList builds a CHANNELS_LIST body.
func EncodeChannelsList(descs []wire.ChannelDescriptor) []byte {
	buf := make([]byte, 4+2*len(descs))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(descs)))
	for i, d := range descs {
		buf[4+i*2] = d.Type
		buf[4+i*2+1] = d.ID
	}
	return buf
}

// EncodeSurfaceCreate builds a SURFACE_CREATE body for an ARGB32 surface.
func EncodeSurfaceCreate(id, w, h uint32) []byte {
	buf := make([]byte, wire.SurfaceCreateSize)
	binary.LittleEndian.PutUint32(buf[0:4], id)
	binary.LittleEndian.PutUint32(buf[4:8], w)
	binary.LittleEndian.PutUint32(buf[8:12], h)
	binary.LittleEndian.PutUint32(buf[12:16], wire.SurfaceFormatARGB32)
	return buf
}
