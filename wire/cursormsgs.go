package wire

import "encoding/binary"

// Point is a 2D integer coordinate (position fields throughout the
// cursor and inputs channels).
type Point struct {
	X int32
	Y int32
}

// PointSize is the packed size of Point: two i32 fields = 8 bytes.
const PointSize = 8

func decodePoint(b []byte) Point {
	return Point{X: int32(binary.LittleEndian.Uint32(b[0:4])), Y: int32(binary.LittleEndian.Uint32(b[4:8]))}
}

func encodePoint(buf []byte, p Point) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.X))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.Y))
}

// Cursor shape type tags (spec §4.7).
const (
	CursorAlpha  uint8 = 0
	CursorMono   uint8 = 1
	CursorColor4 uint8 = 2
	CursorColor8 uint8 = 3
	CursorColor16 uint8 = 4
	CursorColor24 uint8 = 5
	CursorColor32 uint8 = 6
)

// CursorShapeHeaderSize is type(1) + padding(1) + width(2) + height(2) +
// hot_x(2) + hot_y(2) + data_len(4) = 14 bytes, preceding data_len bytes
// of shape-specific pixel data.
const CursorShapeHeaderSize = 14

// CursorShapeHeader is the fixed prefix of a cursor shape descriptor.
type CursorShapeHeader struct {
	Type    uint8
	Width   uint16
	Height  uint16
	HotX    uint16
	HotY    uint16
	DataLen uint32
}

func decodeCursorShapeHeader(b []byte) (*CursorShapeHeader, []byte, bool) {
	if len(b) < CursorShapeHeaderSize {
		return nil, nil, false
	}
	h := &CursorShapeHeader{
		Type:    b[0],
		Width:   binary.LittleEndian.Uint16(b[2:4]),
		Height:  binary.LittleEndian.Uint16(b[4:6]),
		HotX:    binary.LittleEndian.Uint16(b[6:8]),
		HotY:    binary.LittleEndian.Uint16(b[8:10]),
		DataLen: binary.LittleEndian.Uint32(b[10:14]),
	}
	end := CursorShapeHeaderSize + int(h.DataLen)
	if end > len(b) {
		return nil, nil, false
	}
	return h, b[CursorShapeHeaderSize:end], true
}

// CursorInitFixedSize is position(8) + trail_length(2) +
// trail_frequency(2) + visible(1) + has_shape(1) = 14 bytes, followed by
// a CursorShapeHeader+data when has_shape is nonzero.
const CursorInitFixedSize = 14

// CursorInit is CURSOR_INIT's body.
type CursorInit struct {
	Position       Point
	TrailLength    uint16
	TrailFrequency uint16
	Visible        bool
	Shape          *CursorShapeHeader
	ShapeData      []byte
}

// DecodeCursorInit parses a CURSOR_INIT body.
func DecodeCursorInit(body []byte) (*CursorInit, bool) {
	if len(body) < CursorInitFixedSize {
		return nil, false
	}
	c := &CursorInit{
		Position:       decodePoint(body[0:8]),
		TrailLength:    binary.LittleEndian.Uint16(body[8:10]),
		TrailFrequency: binary.LittleEndian.Uint16(body[10:12]),
		Visible:        body[12] != 0,
	}
	if body[13] != 0 {
		shape, data, ok := decodeCursorShapeHeader(body[CursorInitFixedSize:])
		if !ok {
			return nil, false
		}
		c.Shape, c.ShapeData = shape, data
	}
	return c, true
}

// CursorSetFixedSize is position(8) + visible(1) + padding(3) = 12
// bytes, followed by a CursorShapeHeader+data.
const CursorSetFixedSize = 12

// CursorSet is CURSOR_SET's body.
type CursorSet struct {
	Position  Point
	Visible   bool
	Shape     *CursorShapeHeader
	ShapeData []byte
}

// DecodeCursorSet parses a CURSOR_SET body.
func DecodeCursorSet(body []byte) (*CursorSet, bool) {
	if len(body) < CursorSetFixedSize {
		return nil, false
	}
	shape, data, ok := decodeCursorShapeHeader(body[CursorSetFixedSize:])
	if !ok {
		return nil, false
	}
	return &CursorSet{
		Position: decodePoint(body[0:8]),
		Visible:  body[8] != 0,
		Shape:    shape,
		ShapeData: data,
	}, true
}

// DecodeCursorMove parses CURSOR_MOVE: position(8).
func DecodeCursorMove(body []byte) (Point, bool) {
	if len(body) < PointSize {
		return Point{}, false
	}
	return decodePoint(body[0:8]), true
}

// DecodeCursorTrail parses CURSOR_TRAIL: length(2) + frequency(2).
func DecodeCursorTrail(body []byte) (length, frequency uint16, ok bool) {
	if len(body) < 4 {
		return 0, 0, false
	}
	return binary.LittleEndian.Uint16(body[0:2]), binary.LittleEndian.Uint16(body[2:4]), true
}
