// Package handshake implements the SPICE link-phase state machine (spec
// §4.3): link header/mess exchange, capability negotiation, and RSA-OAEP
// ticket authentication. It runs once, strictly sequentially, immediately
// after transport connect, for every channel.
package handshake

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"spice/spiceerr"
	"spice/transport"
	"spice/wire"
)

// DefaultTimeout is the end-to-end handshake timeout (spec §5).
const DefaultTimeout = 10 * time.Second

// Config carries everything the handshake needs for one channel's link
// phase.
type Config struct {
	ConnectionID uint32 // 0 for the main channel; session_id for every other channel
	ChannelType  uint8
	ChannelID    uint8
	CommonCaps   []uint32 // AUTH_SELECTION is added automatically if missing
	ChannelCaps  []uint32
	Password     string
	Timeout      time.Duration // 0 means DefaultTimeout
}

// Result is everything learned during the link phase that the caller
// needs to drive the channel afterward.
type Result struct {
	ServerCommonCaps  []uint32
	ServerChannelCaps []uint32
}

// Do runs the handshake over t and returns once the 4-byte link result
// has been read and found zero, or an error otherwise. It is strictly
// sequential — no pipelining (spec §4.3) — implemented as a single
// blocking sequence of writes and reads, raced against ctx/Timeout on a
// background goroutine.
func Do(ctx context.Context, t transport.Transport, cfg Config) (*Result, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := doSync(t, cfg)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		t.Close()
		return nil, fmt.Errorf("spice: handshake timed out: %w", ctx.Err())
	}
}

func doSync(t transport.Transport, cfg Config) (*Result, error) {
	commonCaps := ensureCap(cfg.CommonCaps, wire.CapCommonAuthSelection)

	// Step 1: LinkHeader + LinkMess + caps.
	mess := wire.LinkMess{
		ConnectionID:   cfg.ConnectionID,
		ChannelType:    cfg.ChannelType,
		ChannelID:      cfg.ChannelID,
		NumCommonCaps:  uint32(len(commonCaps)),
		NumChannelCaps: uint32(len(cfg.ChannelCaps)),
		CapsOffset:     wire.LinkMessSize,
	}
	var body bytes.Buffer
	if err := mess.Encode(&body); err != nil {
		return nil, err
	}
	if err := wire.EncodeCaps(&body, commonCaps); err != nil {
		return nil, err
	}
	if err := wire.EncodeCaps(&body, cfg.ChannelCaps); err != nil {
		return nil, err
	}

	header := wire.LinkHeader{Major: 2, Minor: 2, Size: uint32(body.Len())}
	if err := writeAll(t, encodeHeader(&header)); err != nil {
		return nil, err
	}
	if err := t.WriteAll(body.Bytes()); err != nil {
		return nil, err
	}

	// Step 2: read LinkHeader + LinkReplyData + server caps.
	replyHeaderBytes, err := t.ReadExact(wire.LinkHeaderSize)
	if err != nil {
		return nil, err
	}
	replyHeader, err := wire.DecodeLinkHeader(bytes.NewReader(replyHeaderBytes))
	if err != nil {
		return nil, err
	}
	if replyHeader.Size < wire.LinkReplyDataSize {
		return nil, fmt.Errorf("%w: link reply size %d smaller than LinkReplyData", spiceerr.ErrShortRead, replyHeader.Size)
	}

	replyBytes, err := t.ReadExact(int(replyHeader.Size))
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(replyBytes)
	reply, err := wire.DecodeLinkReplyData(r)
	if err != nil {
		return nil, err
	}
	if reply.Error != 0 {
		return nil, spiceerr.LinkRejected(reply.Error)
	}
	serverCommonCaps, err := wire.DecodeCaps(r, reply.NumCommonCaps)
	if err != nil {
		return nil, err
	}
	serverChannelCaps, err := wire.DecodeCaps(r, reply.NumChannelCaps)
	if err != nil {
		return nil, err
	}

	// Step 3: auth mechanism selection, mandatory even with no password
	// (spec §4.3 step 3, §9).
	var authBuf bytes.Buffer
	wire.EncodeLinkAuthMechanism(&authBuf, wire.AuthSpice)
	if err := t.WriteAll(authBuf.Bytes()); err != nil {
		return nil, err
	}

	// Step 4: encrypted ticket, always 128 bytes.
	ciphertext, err := encryptTicket(reply.PubKey, cfg.Password)
	if err != nil {
		return nil, err
	}
	if err := t.WriteAll(ciphertext); err != nil {
		return nil, err
	}

	// Step 5: 4-byte link result.
	resultBytes, err := t.ReadExact(4)
	if err != nil {
		return nil, err
	}
	result := le32(resultBytes)
	if result != 0 {
		return nil, spiceerr.AuthFailed(result)
	}

	return &Result{ServerCommonCaps: serverCommonCaps, ServerChannelCaps: serverChannelCaps}, nil
}

func ensureCap(caps []uint32, bit uint) []uint32 {
	if wire.HasCap(caps, bit) {
		return caps
	}
	out := append([]uint32(nil), caps...)
	return wire.SetCap(out, bit)
}

func writeAll(t transport.Transport, b []byte) error {
	return t.WriteAll(b)
}

func encodeHeader(h *wire.LinkHeader) []byte {
	var buf bytes.Buffer
	h.Encode(&buf)
	return buf.Bytes()
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
