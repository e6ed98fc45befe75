// Package channel implements the per-channel runtime that every SPICE
// channel (main, display, cursor, inputs, …) shares once its handshake
// has completed (spec §4.4): the receive/dispatch loop, outgoing serial
// numbers, ping/pong liveness, and ACK-window flow control. One
// goroutine owns the connection read side; writes are serialized
// through a mutex. There is no request/response map — SPICE channels
// are push-based rather than RPC, so client and server traffic share a
// single transport with no correlation bookkeeping.
package channel

import (
	"bytes"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"spice/chanmiddleware"
	"spice/spiceerr"
	"spice/transport"
	"spice/wire"
)

// Handler processes channel-specific messages (type >= 100) that the
// common dispatch in Run does not already understand. Implementations
// live in mainchannel, display, cursor, and inputs.
type Handler interface {
	HandleMessage(msgType uint16, body []byte) error
}

// Channel drives one SPICE channel's receive loop and owns its outgoing
// serial counter, ACK window, and write lock. A Channel must not be
// shared into its own receive goroutine as a value it reads back from —
// callers reach it only through Send and the Handler callback, never by
// capturing it inside the loop goroutine's closure state.
type Channel struct {
	Type uint8
	ID   uint8

	t            transport.Transport
	handler      Handler
	handlerChain chanmiddleware.HandlerFunc // handler.HandleMessage wrapped in LoggingMiddleware; nil when handler is nil
	logger       *log.Logger

	sendMu    sync.Mutex
	outSerial uint64

	ackMu      sync.Mutex
	ackWindow  uint32
	ackCounter uint32

	closed atomic.Bool
}

// New constructs a Channel over an already-linked transport. handler may
// be nil for channels (none currently) that have no channel-specific
// messages. Every channel-specific dispatch — including the
// decoder-error path a Handler reports through its return value — is
// routed through chanmiddleware.Chain(chanmiddleware.LoggingMiddleware)
// so every message gets a uniform type/size/duration/error log line.
func New(channelType, channelID uint8, t transport.Transport, handler Handler, logger *log.Logger) *Channel {
	if logger == nil {
		logger = log.Default()
	}
	c := &Channel{Type: channelType, ID: channelID, t: t, handler: handler, logger: logger}
	if handler != nil {
		c.handlerChain = chanmiddleware.Chain(chanmiddleware.LoggingMiddleware(logger))(handler.HandleMessage)
	}
	return c
}

// Send serializes body under the given message type with the next
// outgoing serial number and writes it atomically (spec §4.4 "Send").
func (c *Channel) Send(msgType uint16, body []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.outSerial++
	header := wire.DataHeader{Serial: c.outSerial, Type: msgType, Size: uint32(len(body))}
	var buf bytes.Buffer
	if err := header.Encode(&buf); err != nil {
		return err
	}
	buf.Write(body)
	return c.t.WriteAll(buf.Bytes())
}

// Close closes the underlying transport, unblocking Run.
func (c *Channel) Close() error {
	c.closed.Store(true)
	return c.t.Close()
}

// Run reads and dispatches messages until the transport closes or a
// fatal error occurs. It blocks and is meant to be called from its own
// goroutine by the caller (spiceclient.Client), which retains the
// *Channel value to call Send/Close — the loop itself never hands the
// Channel off anywhere.
func (c *Channel) Run() error {
	for {
		header, body, err := c.readMessage()
		if err != nil {
			if c.closed.Load() {
				return nil
			}
			return err
		}

		counted, err := c.dispatch(header.Type, body)
		if err != nil {
			return err
		}
		if counted {
			c.countForAck()
		}
	}
}

func (c *Channel) readMessage() (*wire.DataHeader, []byte, error) {
	headerBytes, err := c.t.ReadExact(wire.DataHeaderSize)
	if err != nil {
		return nil, nil, err
	}
	header, err := wire.DecodeDataHeader(bytes.NewReader(headerBytes))
	if err != nil {
		return nil, nil, err
	}
	body, err := c.t.ReadExact(int(header.Size))
	if err != nil {
		return nil, nil, err
	}
	return header, body, nil
}

// dispatch handles the common message types inline and defers anything
// else to the channel-specific Handler. It reports whether the message
// counts toward the ACK window (everything except PING and SET_ACK,
// spec §4.4).
func (c *Channel) dispatch(msgType uint16, body []byte) (counted bool, err error) {
	switch msgType {
	case wire.MsgPing:
		id, ts, extra, ok := wire.DecodePing(body)
		if !ok {
			return false, fmt.Errorf("spice: short PING body (%d bytes)", len(body))
		}
		pong := wire.EncodePong(id, ts, extra)
		return false, c.Send(wire.MsgcPong, pong)

	case wire.MsgSetAck:
		generation, window, ok := wire.DecodeSetAck(body)
		if !ok {
			return false, fmt.Errorf("spice: short SET_ACK body (%d bytes)", len(body))
		}
		_ = generation
		c.ackMu.Lock()
		c.ackWindow = window
		c.ackCounter = 0
		c.ackMu.Unlock()
		return false, nil

	case wire.MsgNotify:
		if msg, ok := wire.DecodeNotify(body); ok {
			c.logger.Printf("spice: channel %d/%d NOTIFY: %s", c.Type, c.ID, msg)
		}
		return true, nil

	case wire.MsgDisconnect:
		c.closed.Store(true)
		return true, spiceerr.ErrClosed

	case wire.MsgMigrateStart:
		return true, c.Send(wire.MsgcMigrateFlush, nil)

	case wire.MsgMigrateData:
		// Migration is not supported (spec §4.4); the flush mark already
		// sent in response to MsgMigrateStart tells the server to fall
		// back, so migrate data itself is simply dropped.
		return true, nil

	case wire.MsgWait4Chans:
		return true, nil

	default:
		if c.handler == nil {
			c.logger.Printf("spice: channel %d/%d unhandled message type %d (%d bytes)", c.Type, c.ID, msgType, len(body))
			return true, nil
		}
		return true, c.handlerChain(msgType, body)
	}
}

func (c *Channel) countForAck() {
	c.ackMu.Lock()
	if c.ackWindow == 0 {
		c.ackMu.Unlock()
		return
	}
	c.ackCounter++
	fire := c.ackCounter >= c.ackWindow
	if fire {
		c.ackCounter = 0
	}
	c.ackMu.Unlock()

	if fire {
		if err := c.Send(wire.MsgcAck, nil); err != nil {
			c.logger.Printf("spice: channel %d/%d failed to send ACK: %v", c.Type, c.ID, err)
		}
	}
}
