package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"spice/spiceerr"
)

// Channel type identifiers (spec §3).
const (
	ChannelMain     uint8 = 1
	ChannelDisplay  uint8 = 2
	ChannelInputs   uint8 = 3
	ChannelCursor   uint8 = 4
	ChannelPlayback uint8 = 5
	ChannelRecord   uint8 = 6
)

// LinkHeaderSize is the packed size of LinkHeader on the wire: magic(4) +
// major(4) + minor(4) + size(4) = 16 bytes (testable property #2).
const LinkHeaderSize = 16

// LinkHeader is the first frame sent by either side at the start of the
// link phase (spec §4.3 step 1).
type LinkHeader struct {
	Major uint32
	Minor uint32
	Size  uint32 // size in bytes of the message that follows (LinkMess + caps, or LinkReplyData + caps)
}

// Encode writes the 16-byte link header, including the REDQ magic, to w.
func (h *LinkHeader) Encode(w io.Writer) error {
	var buf [LinkHeaderSize]byte
	copy(buf[0:4], Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.Major)
	binary.LittleEndian.PutUint32(buf[8:12], h.Minor)
	binary.LittleEndian.PutUint32(buf[12:16], h.Size)
	_, err := w.Write(buf[:])
	return err
}

// DecodeLinkHeader reads and validates a 16-byte link header from r.
// A magic mismatch or version mismatch is fatal per spec §7.
func DecodeLinkHeader(r io.Reader) (*LinkHeader, error) {
	var buf [LinkHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	if !MagicMatches(buf[0:4]) {
		return nil, fmt.Errorf("%w: got %x", spiceerr.ErrBadMagic, buf[0:4])
	}
	h := &LinkHeader{
		Major: binary.LittleEndian.Uint32(buf[4:8]),
		Minor: binary.LittleEndian.Uint32(buf[8:12]),
		Size:  binary.LittleEndian.Uint32(buf[12:16]),
	}
	if h.Major != 2 {
		return nil, fmt.Errorf("%w: major %d.%d", spiceerr.ErrVersionMismatch, h.Major, h.Minor)
	}
	return h, nil
}

// LinkMessSize is the packed size of LinkMess: connection_id(4) +
// channel_type(1) + channel_id(1) + reserved(4) + num_common_caps(4) +
// num_channel_caps(4) + caps_offset(4) = 22 bytes (testable property #2).
//
// The 4-byte reserved field pads channel_type/channel_id up to the
// boundary the wire format actually uses; it is written as zero and
// ignored on read.
const LinkMessSize = 22

// LinkMess is the per-channel link message sent immediately after
// LinkHeader (spec §4.3 step 1), followed by the common and channel
// capability uint32 arrays.
type LinkMess struct {
	ConnectionID   uint32
	ChannelType    uint8
	ChannelID      uint8
	NumCommonCaps  uint32
	NumChannelCaps uint32
	CapsOffset     uint32
}

// Encode writes the 22-byte LinkMess header (without the capability
// arrays) to w.
func (m *LinkMess) Encode(w io.Writer) error {
	var buf [LinkMessSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], m.ConnectionID)
	buf[4] = m.ChannelType
	buf[5] = m.ChannelID
	// buf[6:10] reserved, left zero
	binary.LittleEndian.PutUint32(buf[10:14], m.NumCommonCaps)
	binary.LittleEndian.PutUint32(buf[14:18], m.NumChannelCaps)
	binary.LittleEndian.PutUint32(buf[18:22], m.CapsOffset)
	_, err := w.Write(buf[:])
	return err
}

// DecodeLinkMess reads a 22-byte LinkMess from r.
func DecodeLinkMess(r io.Reader) (*LinkMess, error) {
	var buf [LinkMessSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	return &LinkMess{
		ConnectionID:   binary.LittleEndian.Uint32(buf[0:4]),
		ChannelType:    buf[4],
		ChannelID:      buf[5],
		NumCommonCaps:  binary.LittleEndian.Uint32(buf[10:14]),
		NumChannelCaps: binary.LittleEndian.Uint32(buf[14:18]),
		CapsOffset:     binary.LittleEndian.Uint32(buf[18:22]),
	}, nil
}

// EncodeCaps writes a uint32 capability array in wire order.
func EncodeCaps(w io.Writer, caps []uint32) error {
	buf := make([]byte, 4*len(caps))
	for i, c := range caps {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], c)
	}
	_, err := w.Write(buf)
	return err
}

// DecodeCaps reads n uint32 capability words from r.
func DecodeCaps(r io.Reader, n uint32) ([]uint32, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, 4*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	caps := make([]uint32, n)
	for i := range caps {
		caps[i] = binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
	}
	return caps, nil
}

// PubKeySize is the length of the server's RSA-1024 X.509
// SubjectPublicKeyInfo as embedded in LinkReplyData.
const PubKeySize = 162

// LinkReplyDataSize is the packed size of LinkReplyData without the
// trailing capability arrays: error(4) + pub_key(162) +
// num_common_caps(4) + num_channel_caps(4) + caps_offset(4) = 178 bytes
// (testable property #2).
const LinkReplyDataSize = 178

// LinkReplyData is the server's reply to the client's LinkHeader+LinkMess
// (spec §4.3 step 2).
type LinkReplyData struct {
	Error          uint32
	PubKey         [PubKeySize]byte
	NumCommonCaps  uint32
	NumChannelCaps uint32
	CapsOffset     uint32
}

// DecodeLinkReplyData reads a 178-byte LinkReplyData from r.
func DecodeLinkReplyData(r io.Reader) (*LinkReplyData, error) {
	var buf [LinkReplyDataSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	d := &LinkReplyData{
		Error: binary.LittleEndian.Uint32(buf[0:4]),
	}
	copy(d.PubKey[:], buf[4:4+PubKeySize])
	off := 4 + PubKeySize
	d.NumCommonCaps = binary.LittleEndian.Uint32(buf[off : off+4])
	d.NumChannelCaps = binary.LittleEndian.Uint32(buf[off+4 : off+8])
	d.CapsOffset = binary.LittleEndian.Uint32(buf[off+8 : off+12])
	return d, nil
}

// Encode writes the 178-byte LinkReplyData to w (used by test servers).
func (d *LinkReplyData) Encode(w io.Writer) error {
	var buf [LinkReplyDataSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], d.Error)
	copy(buf[4:4+PubKeySize], d.PubKey[:])
	off := 4 + PubKeySize
	binary.LittleEndian.PutUint32(buf[off:off+4], d.NumCommonCaps)
	binary.LittleEndian.PutUint32(buf[off+4:off+8], d.NumChannelCaps)
	binary.LittleEndian.PutUint32(buf[off+8:off+12], d.CapsOffset)
	_, err := w.Write(buf[:])
	return err
}

// AuthMechanism values for LinkAuthMechanism (spec §4.3 step 3).
const (
	AuthSpice uint32 = 1
	AuthSASL  uint32 = 2 // not implemented; spec.md Non-goals exclude SASL
)

// LinkAuthMechanismSize is the packed size of the 4-byte mechanism
// selector frame.
const LinkAuthMechanismSize = 4

// EncodeLinkAuthMechanism writes the 4-byte auth mechanism selector.
func EncodeLinkAuthMechanism(w io.Writer, mechanism uint32) error {
	var buf [LinkAuthMechanismSize]byte
	binary.LittleEndian.PutUint32(buf[:], mechanism)
	_, err := w.Write(buf[:])
	return err
}

// DataHeaderSize is the packed size of the standard data header: serial(8)
// + type(2) + size(4) + sub_list(4) = 18 bytes (testable property #2).
const DataHeaderSize = 18

// DataHeader is the standard per-message header used once both sides have
// completed linking, when MINI_HEADER has not been negotiated (spec §4.2:
// "The current core does not advertise MINI_HEADER").
type DataHeader struct {
	Serial  uint64
	Type    uint16
	Size    uint32
	SubList uint32
}

// Encode writes the 18-byte standard data header to w.
func (h *DataHeader) Encode(w io.Writer) error {
	var buf [DataHeaderSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], h.Serial)
	binary.LittleEndian.PutUint16(buf[8:10], h.Type)
	binary.LittleEndian.PutUint32(buf[10:14], h.Size)
	binary.LittleEndian.PutUint32(buf[14:18], h.SubList)
	_, err := w.Write(buf[:])
	return err
}

// DecodeDataHeader reads an 18-byte standard data header from r.
func DecodeDataHeader(r io.Reader) (*DataHeader, error) {
	var buf [DataHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	return &DataHeader{
		Serial:  binary.LittleEndian.Uint64(buf[0:8]),
		Type:    binary.LittleEndian.Uint16(buf[8:10]),
		Size:    binary.LittleEndian.Uint32(buf[10:14]),
		SubList: binary.LittleEndian.Uint32(buf[14:18]),
	}, nil
}

// MiniDataHeaderSize is the packed size of the mini header: type(2) +
// size(4) = 6 bytes (testable property #2). Implemented for completeness
// per spec §4.2/§9 ("Implementations MAY add it but must not claim it
// without implementing it") but never advertised by handshake.Do.
const MiniDataHeaderSize = 6

// MiniDataHeader is the six-byte alternate header used only when both
// peers have negotiated the MINI_HEADER capability.
type MiniDataHeader struct {
	Type uint16
	Size uint32
}

// Encode writes the 6-byte mini header to w.
func (h *MiniDataHeader) Encode(w io.Writer) error {
	var buf [MiniDataHeaderSize]byte
	binary.LittleEndian.PutUint16(buf[0:2], h.Type)
	binary.LittleEndian.PutUint32(buf[2:6], h.Size)
	_, err := w.Write(buf[:])
	return err
}

// DecodeMiniDataHeader reads a 6-byte mini header from r.
func DecodeMiniDataHeader(r io.Reader) (*MiniDataHeader, error) {
	var buf [MiniDataHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	return &MiniDataHeader{
		Type: binary.LittleEndian.Uint16(buf[0:2]),
		Size: binary.LittleEndian.Uint32(buf[2:6]),
	}, nil
}
