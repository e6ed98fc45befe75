// Package mainchannel implements the main channel's bootstrap sequence
// and bookkeeping (spec §4.5): MAIN_INIT, the mandatory ATTACH_CHANNELS
// round-trip, CHANNELS_LIST discovery, mouse-mode/multi-media-time
// tracking, and the minimal agent-envelope token accounting described in
// spec §9.
package mainchannel

import (
	"fmt"
	"log"
	"sync"

	"spice/channel"
	"spice/wire"
)

// State is the bootstrap/bookkeeping state snapshot a consumer can poll.
type State struct {
	SessionID        uint32
	SupportedModes   uint32
	CurrentMouseMode uint32
	MultiMediaTime   uint32
	AgentConnected   bool
	AgentTokens      uint32
	Name             string
	UUID             [16]byte
}

// Main implements channel.Handler for the main channel. It must be
// bound to its owning *channel.Channel with SetChannel before the
// channel's Run loop starts, since handling MAIN_INIT requires sending
// ATTACH_CHANNELS back immediately.
type Main struct {
	logger *log.Logger

	// OnChannelsList is invoked once CHANNELS_LIST arrives, with the
	// session id to use as connection_id for every secondary channel.
	// The orchestrator (spiceclient) uses this to open Display/Inputs/
	// Cursor channels.
	OnChannelsList func(sessionID uint32, channels []wire.ChannelDescriptor)

	// OnMouseMode, if set, is called whenever MOUSE_MODE updates.
	OnMouseMode func(current uint32)

	mu    sync.Mutex
	state State
	ch    *channel.Channel
}

// New constructs a Main bootstrap handler. Call SetChannel before the
// channel's Run loop is started.
func New(logger *log.Logger) *Main {
	if logger == nil {
		logger = log.Default()
	}
	return &Main{logger: logger}
}

// SetChannel binds the owning channel, used to send ATTACH_CHANNELS and
// AGENT_TOKEN credits.
func (m *Main) SetChannel(ch *channel.Channel) {
	m.mu.Lock()
	m.ch = ch
	m.mu.Unlock()
}

// State returns a snapshot of the current bootstrap/bookkeeping state.
func (m *Main) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// HandleMessage implements channel.Handler.
func (m *Main) HandleMessage(msgType uint16, body []byte) error {
	switch msgType {
	case wire.MsgMainInit:
		return m.handleInit(body)
	case wire.MsgMainChannelsList:
		return m.handleChannelsList(body)
	case wire.MsgMainMouseMode:
		return m.handleMouseMode(body)
	case wire.MsgMainMultiMediaTime:
		return m.handleMultiMediaTime(body)
	case wire.MsgMainAgentConnected:
		m.mu.Lock()
		m.state.AgentConnected = true
		m.mu.Unlock()
		return nil
	case wire.MsgMainAgentDisconnected:
		m.mu.Lock()
		m.state.AgentConnected = false
		m.mu.Unlock()
		return nil
	case wire.MsgMainAgentData:
		return m.handleAgentData(body)
	case wire.MsgMainAgentToken:
		return m.handleAgentToken(body)
	case wire.MsgMainName:
		m.mu.Lock()
		m.state.Name = string(body)
		m.mu.Unlock()
		return nil
	case wire.MsgMainUUID:
		m.mu.Lock()
		if len(body) >= 16 {
			copy(m.state.UUID[:], body[:16])
		}
		m.mu.Unlock()
		return nil
	default:
		m.logger.Printf("spice: main channel ignoring message type %d (%d bytes)", msgType, len(body))
		return nil
	}
}

func (m *Main) handleInit(body []byte) error {
	init, ok := wire.DecodeMainInit(body)
	if !ok {
		return fmt.Errorf("spice: short MAIN_INIT body (%d bytes)", len(body))
	}

	m.mu.Lock()
	m.state.SessionID = init.SessionID
	m.state.SupportedModes = init.SupportedMouseModes
	m.state.CurrentMouseMode = init.CurrentMouseMode
	m.state.MultiMediaTime = init.MultiMediaTime
	m.state.AgentConnected = init.AgentConnected != 0
	m.state.AgentTokens = init.AgentTokens
	ch := m.ch
	m.mu.Unlock()

	// MAIN_ATTACH_CHANNELS is mandatory before the connect sequence is
	// considered complete (spec §4.5 step 2, testable property #4):
	// without it secondary channels connect but receive no data.
	if ch == nil {
		return fmt.Errorf("spice: main channel handler not bound before MAIN_INIT")
	}
	return ch.Send(wire.MsgcMainAttachChannels, nil)
}

func (m *Main) handleChannelsList(body []byte) error {
	channels, ok := wire.DecodeChannelsList(body)
	if !ok {
		return fmt.Errorf("spice: short CHANNELS_LIST body (%d bytes)", len(body))
	}
	m.mu.Lock()
	sessionID := m.state.SessionID
	cb := m.OnChannelsList
	m.mu.Unlock()
	if cb != nil {
		cb(sessionID, channels)
	}
	return nil
}

func (m *Main) handleMouseMode(body []byte) error {
	_, current, ok := wire.DecodeMouseMode(body)
	if !ok {
		return fmt.Errorf("spice: short MOUSE_MODE body (%d bytes)", len(body))
	}
	m.mu.Lock()
	m.state.CurrentMouseMode = current
	cb := m.OnMouseMode
	m.mu.Unlock()
	if cb != nil {
		cb(current)
	}
	return nil
}

func (m *Main) handleMultiMediaTime(body []byte) error {
	t, ok := wire.DecodeMultiMediaTime(body)
	if !ok {
		return fmt.Errorf("spice: short MULTI_MEDIA_TIME body (%d bytes)", len(body))
	}
	m.mu.Lock()
	m.state.MultiMediaTime = t
	m.mu.Unlock()
	return nil
}

// handleAgentData decodes only the envelope header (spec §9: "decode
// the envelope header, honor token flow control... discard unknown
// sub-types") and debits one token for the delivery.
func (m *Main) handleAgentData(body []byte) error {
	if _, ok := wire.DecodeAgentEnvelope(body); !ok {
		return fmt.Errorf("spice: short AGENT_DATA envelope (%d bytes)", len(body))
	}
	m.mu.Lock()
	if m.state.AgentTokens > 0 {
		m.state.AgentTokens--
	}
	low := m.state.AgentTokens < agentTokenLowWatermark
	ch := m.ch
	m.mu.Unlock()

	// Credit more tokens before the server starves, rather than waiting
	// for it to ask — the server has no obligation to prompt.
	if low && ch != nil {
		const topUp = 10
		if err := ch.Send(wire.MsgcMainAgentToken, wire.EncodeAgentToken(topUp)); err != nil {
			return err
		}
		m.mu.Lock()
		m.state.AgentTokens += topUp
		m.mu.Unlock()
	}
	return nil
}

// agentTokenLowWatermark is the remaining-token threshold below which
// the client proactively credits the server more tokens.
const agentTokenLowWatermark = 2

func (m *Main) handleAgentToken(body []byte) error {
	n, ok := wire.DecodeAgentToken(body)
	if !ok {
		return fmt.Errorf("spice: short AGENT_TOKEN body (%d bytes)", len(body))
	}
	m.mu.Lock()
	m.state.AgentTokens += n
	m.mu.Unlock()
	return nil
}
