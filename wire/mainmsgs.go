package wire

import "encoding/binary"

// MainInitSize is the packed size of MAIN_INIT: eight uint32 fields.
const MainInitSize = 32

// MainInit is the server's bootstrap message for the main channel (spec
// §4.5 step 1).
type MainInit struct {
	SessionID            uint32
	DisplayChannelsHint  uint32
	SupportedMouseModes  uint32
	CurrentMouseMode     uint32
	AgentConnected       uint32
	AgentTokens          uint32
	MultiMediaTime       uint32
	RAMHint              uint32
}

// DecodeMainInit parses a 32-byte MAIN_INIT body.
func DecodeMainInit(body []byte) (*MainInit, bool) {
	if len(body) < MainInitSize {
		return nil, false
	}
	return &MainInit{
		SessionID:           binary.LittleEndian.Uint32(body[0:4]),
		DisplayChannelsHint: binary.LittleEndian.Uint32(body[4:8]),
		SupportedMouseModes: binary.LittleEndian.Uint32(body[8:12]),
		CurrentMouseMode:    binary.LittleEndian.Uint32(body[12:16]),
		AgentConnected:      binary.LittleEndian.Uint32(body[16:20]),
		AgentTokens:         binary.LittleEndian.Uint32(body[20:24]),
		MultiMediaTime:      binary.LittleEndian.Uint32(body[24:28]),
		RAMHint:             binary.LittleEndian.Uint32(body[28:32]),
	}, true
}

// ChannelDescriptor is one entry of CHANNELS_LIST: a channel type and id
// the client may attach to.
type ChannelDescriptor struct {
	Type uint8
	ID   uint8
}

// DecodeChannelsList parses CHANNELS_LIST: num_channels(4) followed by
// that many {type(1), id(1)} pairs.
func DecodeChannelsList(body []byte) ([]ChannelDescriptor, bool) {
	if len(body) < 4 {
		return nil, false
	}
	n := binary.LittleEndian.Uint32(body[0:4])
	want := 4 + int(n)*2
	if len(body) < want {
		return nil, false
	}
	out := make([]ChannelDescriptor, n)
	for i := range out {
		off := 4 + i*2
		out[i] = ChannelDescriptor{Type: body[off], ID: body[off+1]}
	}
	return out, true
}

// DecodeMouseMode parses MOUSE_MODE: supported(4) + current(4).
func DecodeMouseMode(body []byte) (supported, current uint32, ok bool) {
	if len(body) < 8 {
		return 0, 0, false
	}
	return binary.LittleEndian.Uint32(body[0:4]), binary.LittleEndian.Uint32(body[4:8]), true
}

// DecodeMultiMediaTime parses MULTI_MEDIA_TIME: time(4).
func DecodeMultiMediaTime(body []byte) (uint32, bool) {
	if len(body) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(body[0:4]), true
}

// DecodeAgentToken parses AGENT_TOKEN: num_tokens(4).
func DecodeAgentToken(body []byte) (uint32, bool) {
	if len(body) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(body[0:4]), true
}

// AgentEnvelopeHeaderSize is the packed size of the agent message
// envelope header this core understands just well enough to discard
// sub-messages it does not implement (spec §9 "Agent channel parsing").
const AgentEnvelopeHeaderSize = 12

// AgentEnvelope is the minimal header of an AGENT_DATA payload: a
// protocol tag, a sub-message type, and the size of the sub-message
// payload that follows. The core never interprets the payload itself.
type AgentEnvelope struct {
	Protocol uint32
	Type     uint32
	Size     uint32
}

// DecodeAgentEnvelope parses the fixed 12-byte envelope header from an
// AGENT_DATA body.
func DecodeAgentEnvelope(body []byte) (*AgentEnvelope, bool) {
	if len(body) < AgentEnvelopeHeaderSize {
		return nil, false
	}
	return &AgentEnvelope{
		Protocol: binary.LittleEndian.Uint32(body[0:4]),
		Type:     binary.LittleEndian.Uint32(body[4:8]),
		Size:     binary.LittleEndian.Uint32(body[8:12]),
	}, true
}

// EncodeAgentToken builds an AGENT_TOKEN body crediting the server with
// numTokens additional sends.
func EncodeAgentToken(numTokens uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, numTokens)
	return buf
}
