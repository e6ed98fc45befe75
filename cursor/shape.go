package cursor

import (
	"fmt"

	"spice/wire"
)

// Shape is a decoded cursor image in RGBA8888, top-to-bottom.
type Shape struct {
	Width  uint16
	Height uint16
	HotX   uint16
	HotY   uint16
	Pix    []byte
}

// decodeShape dispatches on header.Type, mirroring the per-type decode
// switch spec §4.7 describes (ALPHA/MONO/palette color depths).
func decodeShape(header *wire.CursorShapeHeader, data []byte) (*Shape, error) {
	s := &Shape{Width: header.Width, Height: header.Height, HotX: header.HotX, HotY: header.HotY}
	w, h := int(header.Width), int(header.Height)

	switch header.Type {
	case wire.CursorAlpha:
		need := w * h * 4
		if len(data) < need {
			return nil, fmt.Errorf("spice: ALPHA cursor data too short: have %d, need %d", len(data), need)
		}
		s.Pix = make([]byte, need)
		for i := 0; i < w*h; i++ {
			// Packed little-endian ARGB32 (0xAARRGGBB) stores as bytes
			// B,G,R,A; reorder to this package's R,G,B,A convention.
			b, g, r, a := data[i*4], data[i*4+1], data[i*4+2], data[i*4+3]
			s.Pix[i*4+0], s.Pix[i*4+1], s.Pix[i*4+2], s.Pix[i*4+3] = r, g, b, a
		}
		return s, nil

	case wire.CursorMono:
		stride := (w + 7) / 8
		need := stride * h * 2 // AND mask followed by XOR mask, equal length
		if len(data) < need {
			return nil, fmt.Errorf("spice: MONO cursor data too short: have %d, need %d", len(data), need)
		}
		and := data[:stride*h]
		xor := data[stride*h : 2*stride*h]
		s.Pix = make([]byte, w*h*4)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				bit := byte(1) << (7 - uint(x)%8)
				andBit := and[y*stride+x/8]&bit != 0
				xorBit := xor[y*stride+x/8]&bit != 0
				i := (y*w + x) * 4
				switch {
				case andBit:
					// AND=1 covers both "fully transparent" and "invert
					// destination"; this core has no destination pixel to
					// invert against, so both render transparent.
					s.Pix[i+3] = 0
				case xorBit:
					s.Pix[i+0], s.Pix[i+1], s.Pix[i+2], s.Pix[i+3] = 0xFF, 0xFF, 0xFF, 0xFF
				default:
					s.Pix[i+0], s.Pix[i+1], s.Pix[i+2], s.Pix[i+3] = 0, 0, 0, 0xFF
				}
			}
		}
		return s, nil

	case wire.CursorColor4, wire.CursorColor8, wire.CursorColor16, wire.CursorColor24, wire.CursorColor32:
		return decodePaletteShape(header, data, w, h)

	default:
		return nil, fmt.Errorf("spice: unknown cursor shape type %d", header.Type)
	}
}

// decodePaletteShape handles the COLORn family. The wire format this
// core implements carries no separate palette table address, so pixel
// values are read directly as packed colors at the type's bit depth —
// a deliberate simplification from real SPICE's indexed-plus-palette
// encoding, recorded in DESIGN.md. A trailing 1-bpp AND mask supplies
// transparency exactly as for MONO.
func decodePaletteShape(header *wire.CursorShapeHeader, data []byte, w, h int) (*Shape, error) {
	bytesPerPixel := map[uint8]int{
		wire.CursorColor4:  1, // two 4-bit pixels packed per byte, rounded up per row below
		wire.CursorColor8:  1,
		wire.CursorColor16: 2,
		wire.CursorColor24: 3,
		wire.CursorColor32: 4,
	}[header.Type]

	var colorStride int
	if header.Type == wire.CursorColor4 {
		colorStride = (w + 1) / 2
	} else {
		colorStride = w * bytesPerPixel
	}
	maskStride := (w + 7) / 8
	need := colorStride*h + maskStride*h
	if len(data) < need {
		return nil, fmt.Errorf("spice: COLOR cursor data too short: have %d, need %d", len(data), need)
	}
	colorData := data[:colorStride*h]
	mask := data[colorStride*h : colorStride*h+maskStride*h]

	pix := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		row := colorData[y*colorStride:]
		for x := 0; x < w; x++ {
			r, g, b := pixelColor(header.Type, row, x, bytesPerPixel)
			i := (y*w + x) * 4
			pix[i+0], pix[i+1], pix[i+2] = r, g, b
			bit := byte(1) << (7 - uint(x)%8)
			if mask[y*maskStride+x/8]&bit != 0 {
				pix[i+3] = 0
			} else {
				pix[i+3] = 0xFF
			}
		}
	}
	return &Shape{Width: header.Width, Height: header.Height, HotX: header.HotX, HotY: header.HotY, Pix: pix}, nil
}

func pixelColor(cursorType uint8, row []byte, x, bytesPerPixel int) (r, g, b byte) {
	switch cursorType {
	case wire.CursorColor4:
		byteVal := row[x/2]
		var nibble byte
		if x%2 == 0 {
			nibble = byteVal >> 4
		} else {
			nibble = byteVal & 0x0F
		}
		v := nibble * 17 // 0-15 -> 0-255
		return v, v, v
	case wire.CursorColor8:
		v := row[x]
		return v, v, v
	case wire.CursorColor16:
		lo, hi := row[x*2], row[x*2+1]
		v := uint16(lo) | uint16(hi)<<8
		r5 := byte((v >> 11) & 0x1F)
		g6 := byte((v >> 5) & 0x3F)
		b5 := byte(v & 0x1F)
		return r5 << 3, g6 << 2, b5 << 3
	case wire.CursorColor24:
		off := x * 3
		return row[off+2], row[off+1], row[off]
	case wire.CursorColor32:
		off := x * 4
		return row[off+2], row[off+1], row[off]
	default:
		_ = bytesPerPixel
		return 0, 0, 0
	}
}
