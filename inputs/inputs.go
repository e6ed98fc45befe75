// Package inputs implements the inputs channel (spec §4.8): keyboard
// and mouse event serialization toward the server, and the small set
// of server->client messages (modifier state, motion-ACK flow control).
package inputs

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/time/rate"

	"spice/channel"
	"spice/wire"
)

// State is the consumer-visible inputs state snapshot.
type State struct {
	KeyboardModifiers uint16
}

// Inputs implements channel.Handler for the inputs channel. It also
// gates outgoing mouse-motion sends with a rate.Limiter, the same way
// outgoing call rates are gated elsewhere in this module: a burst of
// motion events beyond MotionAckWindow is delayed rather than flooding
// the transport while waiting for the server's next
// INPUTS_MOUSE_MOTION_ACK. golang.org/x/time/rate has no API for
// crediting tokens on demand, so INPUTS_MOUSE_MOTION_ACK is treated as a
// liveness signal rather than literally refilling the bucket; the
// limiter's steady refill rate approximates the server's ACK cadence.
type Inputs struct {
	logger *log.Logger

	mu    sync.Mutex
	state State
	ch    *channel.Channel

	motionLimiter *rate.Limiter

	// OnUpdate is invoked whenever keyboard modifier state changes.
	OnUpdate func()
}

// New constructs an Inputs handler. motionBurst is the number of
// mouse-motion messages allowed before the limiter starts delaying
// sends; 0 uses wire.MotionAckWindow, matching the server's own
// 4-message ACK window (spec §4.8). motionRate is the steady refill
// rate in events/sec; 0 defaults to a conservative 30/sec.
func New(logger *log.Logger, motionBurst int, motionRate rate.Limit) *Inputs {
	if logger == nil {
		logger = log.Default()
	}
	if motionBurst <= 0 {
		motionBurst = wire.MotionAckWindow
	}
	if motionRate <= 0 {
		motionRate = 30
	}
	return &Inputs{
		logger:        logger,
		motionLimiter: rate.NewLimiter(motionRate, motionBurst),
	}
}

// Bind attaches the owning channel. Inputs sends no init message of its
// own (spec §4.8: "After handshake, send no init").
func (in *Inputs) Bind(ch *channel.Channel) {
	in.mu.Lock()
	in.ch = ch
	in.mu.Unlock()
}

// State returns a snapshot of the current inputs state.
func (in *Inputs) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// HandleMessage implements channel.Handler.
func (in *Inputs) HandleMessage(msgType uint16, body []byte) error {
	switch msgType {
	case wire.MsgInputsInit:
		modifiers, ok := wire.DecodeInputsInit(body)
		if !ok {
			return fmt.Errorf("spice: short INPUTS_INIT body (%d bytes)", len(body))
		}
		in.mu.Lock()
		in.state.KeyboardModifiers = modifiers
		in.mu.Unlock()
		in.notify()
		return nil

	case wire.MsgInputsKeyModifiers:
		modifiers, ok := wire.DecodeKeyModifiers(body)
		if !ok {
			return fmt.Errorf("spice: short INPUTS_KEY_MODIFIERS body (%d bytes)", len(body))
		}
		in.mu.Lock()
		in.state.KeyboardModifiers = modifiers
		in.mu.Unlock()
		in.notify()
		return nil

	case wire.MsgInputsMouseMotionAck:
		// Purely a liveness signal here; the motion limiter's own refill
		// rate already approximates the server's ACK cadence (see New).
		return nil

	default:
		in.logger.Printf("spice: inputs channel unhandled message type %d (%d bytes)", msgType, len(body))
		return nil
	}
}

func (in *Inputs) notify() {
	if in.OnUpdate != nil {
		in.OnUpdate()
	}
}

func (in *Inputs) channel() (*channel.Channel, error) {
	in.mu.Lock()
	ch := in.ch
	in.mu.Unlock()
	if ch == nil {
		return nil, fmt.Errorf("spice: inputs channel not bound")
	}
	return ch, nil
}

// SendKeyDown serializes KEY_DOWN {code} using a PC AT scan code. The E0
// prefix for extended keys is the caller's responsibility to encode,
// either as 0xE0XX in a single code or as two separate messages (spec
// §4.8).
func (in *Inputs) SendKeyDown(code uint32) error {
	ch, err := in.channel()
	if err != nil {
		return err
	}
	return ch.Send(wire.MsgcInputsKeyDown, wire.EncodeKeyDown(code))
}

// SendKeyUp serializes KEY_UP {code}.
func (in *Inputs) SendKeyUp(code uint32) error {
	ch, err := in.channel()
	if err != nil {
		return err
	}
	return ch.Send(wire.MsgcInputsKeyUp, wire.EncodeKeyUp(code))
}

// SendKeyModifiers reports the client's current keyboard modifier/LED
// state.
func (in *Inputs) SendKeyModifiers(modifiers uint16) error {
	ch, err := in.channel()
	if err != nil {
		return err
	}
	return ch.Send(wire.MsgcInputsKeyModifiers, wire.EncodeKeyModifiers(modifiers))
}

// SendMouseMotion serializes MOUSE_MOTION for server mouse mode,
// blocking until the motion-ACK limiter has credit.
func (in *Inputs) SendMouseMotion(dx, dy int32, buttonsState uint16) error {
	ch, err := in.channel()
	if err != nil {
		return err
	}
	if err := in.motionLimiter.WaitN(context.Background(), 1); err != nil {
		return fmt.Errorf("spice: mouse motion rate limit: %w", err)
	}
	return ch.Send(wire.MsgcInputsMouseMotion, wire.EncodeMouseMotion(dx, dy, buttonsState))
}

// SendMousePosition serializes MOUSE_POSITION for client mouse mode.
func (in *Inputs) SendMousePosition(x, y int32, buttonsState uint16, displayID uint8) error {
	ch, err := in.channel()
	if err != nil {
		return err
	}
	return ch.Send(wire.MsgcInputsMousePosition, wire.EncodeMousePosition(x, y, buttonsState, displayID))
}

// SendMousePress serializes MOUSE_PRESS {button, buttons_state}.
func (in *Inputs) SendMousePress(button uint8, buttonsState uint16) error {
	ch, err := in.channel()
	if err != nil {
		return err
	}
	return ch.Send(wire.MsgcInputsMousePress, wire.EncodeMousePress(button, buttonsState))
}

// SendMouseRelease serializes MOUSE_RELEASE {button, buttons_state}.
func (in *Inputs) SendMouseRelease(button uint8, buttonsState uint16) error {
	ch, err := in.channel()
	if err != nil {
		return err
	}
	return ch.Send(wire.MsgcInputsMouseRelease, wire.EncodeMouseRelease(button, buttonsState))
}
