package wire

import (
	"encoding/binary"
	"io"
)

// RectSize is the packed size of Rect: four i32 fields = 16 bytes
// (testable property #2).
const RectSize = 16

// Rect is a SPICE rectangle. Field order on the wire is top, left,
// bottom, right — swapping to left, top, right, bottom is a classic,
// silent way to corrupt every draw coordinate (spec §4.2), so the decode
// order here is pinned by TestRectFieldOrder.
type Rect struct {
	Top    int32
	Left   int32
	Bottom int32
	Right  int32
}

// Width returns Right-Left; Height returns Bottom-Top.
func (r Rect) Width() int32  { return r.Right - r.Left }
func (r Rect) Height() int32 { return r.Bottom - r.Top }

// Encode writes the 16-byte rectangle to w in top, left, bottom, right
// order.
func (r *Rect) Encode(w io.Writer) error {
	var buf [RectSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Top))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.Left))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(r.Bottom))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(r.Right))
	_, err := w.Write(buf[:])
	return err
}

// DecodeRect reads a 16-byte rectangle from b (which must have length
// >= RectSize) without consuming a reader, since rectangles are most
// often embedded inline in a larger message body already in memory.
func DecodeRect(b []byte) Rect {
	return Rect{
		Top:    int32(binary.LittleEndian.Uint32(b[0:4])),
		Left:   int32(binary.LittleEndian.Uint32(b[4:8])),
		Bottom: int32(binary.LittleEndian.Uint32(b[8:12])),
		Right:  int32(binary.LittleEndian.Uint32(b[12:16])),
	}
}
