package wire

import "encoding/binary"

// Mouse button IDs (spec §4.8).
const (
	MouseButtonLeft   uint8 = 1
	MouseButtonMiddle uint8 = 2
	MouseButtonRight  uint8 = 3
	MouseButtonUp     uint8 = 4
	MouseButtonDown   uint8 = 5
)

// MotionAckWindow is how many outgoing mouse-motion messages the client
// may send between server INPUTS_MOUSE_MOTION_ACK messages.
const MotionAckWindow = 4

// EncodeKeyDown/EncodeKeyUp carry a single u32 PC AT scan code. The E0
// prefix for extended keys is encoded by the caller either as 0xE0XX in
// a single code, or as two separate KEY_DOWN/KEY_UP messages, matching
// how real keyboard drivers report extended scan codes.
func EncodeKeyDown(code uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, code)
	return buf
}

func EncodeKeyUp(code uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, code)
	return buf
}

// EncodeKeyModifiers carries the client's current keyboard LED/modifier
// state in response to or independent of a server INPUTS_KEY_MODIFIERS.
func EncodeKeyModifiers(modifiers uint16) []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, modifiers)
	return buf
}

// EncodeMouseMotion builds MOUSE_MOTION {dx, dy, buttons_state} for
// server mouse mode: relative motion plus the current button mask.
func EncodeMouseMotion(dx, dy int32, buttonsState uint16) []byte {
	buf := make([]byte, 10)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(dx))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(dy))
	binary.LittleEndian.PutUint16(buf[8:10], buttonsState)
	return buf
}

// EncodeMousePosition builds MOUSE_POSITION {x, y, buttons_state,
// display_id} for client mouse mode: absolute position on a given
// display surface.
func EncodeMousePosition(x, y int32, buttonsState uint16, displayID uint8) []byte {
	buf := make([]byte, 11)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(x))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(y))
	binary.LittleEndian.PutUint16(buf[8:10], buttonsState)
	buf[10] = displayID
	return buf
}

// EncodeMousePress/EncodeMouseRelease carry a button id plus the full
// button-state mask at the time of the event.
func EncodeMousePress(button uint8, buttonsState uint16) []byte {
	buf := make([]byte, 3)
	buf[0] = button
	binary.LittleEndian.PutUint16(buf[1:3], buttonsState)
	return buf
}

func EncodeMouseRelease(button uint8, buttonsState uint16) []byte {
	buf := make([]byte, 3)
	buf[0] = button
	binary.LittleEndian.PutUint16(buf[1:3], buttonsState)
	return buf
}

// DecodeInputsInit parses INPUTS_INIT {keyboard_modifiers: u16}, the
// initial LED state sent once after handshake.
func DecodeInputsInit(body []byte) (modifiers uint16, ok bool) {
	if len(body) < 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(body[0:2]), true
}

// DecodeKeyModifiers parses INPUTS_KEY_MODIFIERS {modifiers: u16}.
func DecodeKeyModifiers(body []byte) (modifiers uint16, ok bool) {
	if len(body) < 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(body[0:2]), true
}

// MouseMotionAck carries no fields; its receipt alone signals the
// client may send another MotionAckWindow worth of motion messages.
func DecodeMouseMotionAck(body []byte) bool {
	return true
}
