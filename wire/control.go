package wire

import "encoding/binary"

// PongMaxExtra is the maximum size of the extra field echoed back in a
// PONG, working around a server-side receive-buffer limit (spec §4.4,
// §10 "PONG size workaround").
const PongMaxExtra = 4 * 1024

// DecodePing parses a PING message body: id(8) + timestamp(8) + extra
// (remainder).
func DecodePing(body []byte) (id uint64, timestamp uint64, extra []byte, ok bool) {
	if len(body) < 16 {
		return 0, 0, nil, false
	}
	id = binary.LittleEndian.Uint64(body[0:8])
	timestamp = binary.LittleEndian.Uint64(body[8:16])
	return id, timestamp, body[16:], true
}

// EncodePong builds a PONG body, truncating extra to PongMaxExtra.
func EncodePong(id, timestamp uint64, extra []byte) []byte {
	if len(extra) > PongMaxExtra {
		extra = extra[:PongMaxExtra]
	}
	buf := make([]byte, 16+len(extra))
	binary.LittleEndian.PutUint64(buf[0:8], id)
	binary.LittleEndian.PutUint64(buf[8:16], timestamp)
	copy(buf[16:], extra)
	return buf
}

// DecodeSetAck parses a SET_ACK message body: generation(4) + window(4).
func DecodeSetAck(body []byte) (generation uint32, window uint32, ok bool) {
	if len(body) < 8 {
		return 0, 0, false
	}
	return binary.LittleEndian.Uint32(body[0:4]), binary.LittleEndian.Uint32(body[4:8]), true
}

// DecodeNotify parses the fixed-size prefix of a NOTIFY message body:
// time_stamp(8) + severity(4) + visibility(4) + what(4), followed by a
// NUL-terminated message string. Only the message text is returned.
func DecodeNotify(body []byte) (message string, ok bool) {
	const prefix = 20
	if len(body) < prefix {
		return "", false
	}
	text := body[prefix:]
	if i := indexByte(text, 0); i >= 0 {
		text = text[:i]
	}
	return string(text), true
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
