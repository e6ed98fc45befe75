package display

import "spice/wire"

// clampRect intersects r with the surface bounds and any RECTS clip,
// matching spec §4.6's `bounding_rect ∩ clip` requirement for DRAW_FILL
// (and, by the same logic, every other draw op's effective region).
func clampRect(r wire.Rect, s *Surface, clipRects []wire.Rect) wire.Rect {
	r = intersect(r, wire.Rect{Top: 0, Left: 0, Bottom: int32(s.Height), Right: int32(s.Width)})
	if len(clipRects) == 0 {
		return r
	}
	// Multiple clip rects would require region splitting to handle
	// precisely; this core intersects against their bounding box, which
	// is exact for the common single-rect clip case used by DRAW_FILL.
	bbox := clipRects[0]
	for _, cr := range clipRects[1:] {
		bbox = union(bbox, cr)
	}
	return intersect(r, bbox)
}

func intersect(a, b wire.Rect) wire.Rect {
	out := wire.Rect{
		Top:    maxI32(a.Top, b.Top),
		Left:   maxI32(a.Left, b.Left),
		Bottom: minI32(a.Bottom, b.Bottom),
		Right:  minI32(a.Right, b.Right),
	}
	if out.Bottom < out.Top {
		out.Bottom = out.Top
	}
	if out.Right < out.Left {
		out.Right = out.Left
	}
	return out
}

func union(a, b wire.Rect) wire.Rect {
	return wire.Rect{
		Top:    minI32(a.Top, b.Top),
		Left:   minI32(a.Left, b.Left),
		Bottom: maxI32(a.Bottom, b.Bottom),
		Right:  maxI32(a.Right, b.Right),
	}
}

func maxI32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

func minI32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

// fillSolid paints r with an opaque color derived from brush.Color
// (ARGB packed as 0xAARRGGBB). Pattern brushes render their stored
// average color the same way, with the caller responsible for the
// "decoder absent" warning (spec §4.6 DRAW_FILL).
func fillSolid(s *Surface, r wire.Rect, argb uint32) {
	a := byte(argb >> 24)
	red := byte(argb >> 16)
	g := byte(argb >> 8)
	b := byte(argb)
	for y := r.Top; y < r.Bottom; y++ {
		for x := r.Left; x < r.Right; x++ {
			px := s.At(int(x), int(y))
			if px == nil {
				continue
			}
			px[0], px[1], px[2], px[3] = red, g, b, orFF(a)
		}
	}
}

// orFF returns 0xFF when a is zero, so brush colors that omit an alpha
// channel still paint as fully opaque.
func orFF(a byte) byte {
	if a == 0 {
		return 0xFF
	}
	return a
}

// blitCopy copies src into dst's destRect, nearest-neighbor sampling
// from srcArea. INTERPOLATE degrades to the same nearest-neighbor
// sampling during initial bring-up (spec §4.6 allows scale mode
// fallback with a logged warning, applied by the caller).
func blitCopy(dst *Surface, destRect wire.Rect, src *Image, srcArea wire.Rect) {
	dw := destRect.Width()
	dh := destRect.Height()
	sw := srcArea.Width()
	sh := srcArea.Height()
	if dw <= 0 || dh <= 0 || sw <= 0 || sh <= 0 {
		return
	}
	for y := int32(0); y < dh; y++ {
		sy := srcArea.Top + y*sh/dh
		for x := int32(0); x < dw; x++ {
			sx := srcArea.Left + x*sw/dw
			if sx < 0 || sy < 0 || sx >= int32(src.Width) || sy >= int32(src.Height) {
				continue
			}
			si := (int(sy)*int(src.Width) + int(sx)) * 4
			px := dst.At(int(destRect.Left+x), int(destRect.Top+y))
			if px == nil {
				continue
			}
			copy(px, src.Pix[si:si+4])
		}
	}
}
