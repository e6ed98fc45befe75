// Package display implements the display channel (spec §4.6): surfaces,
// draw commands, image decoding, video streams, and monitor layout. It
// is the largest component of the core.
package display

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	"github.com/pierrec/lz4/v4"

	"spice/wire"
)

// Image is a decoded pixel buffer in RGBA8888, top-to-bottom row order.
type Image struct {
	Width  uint32
	Height uint32
	Pix    []byte // len == Width*Height*4
}

// decodeCtx carries everything a Decoder needs beyond the raw bytes:
// the image header, the full message body (for palette address
// resolution), the image cache for FROM_CACHE lookups, and the palette
// cache for PAL8 palettes. CACHE_ME stores are made by the caller after
// decoding, not by a Decoder.
type decodeCtx struct {
	header       *wire.SpiceImageHeader
	body         []byte
	cache        *Cache
	paletteCache *PaletteCache
}

// Decoder is one concrete type per SpiceImage type, selected by a
// factory function instead of a switch sprinkled through the caller.
type Decoder interface {
	Decode(typeData []byte, ctx decodeCtx) (*Image, error)
}

// GetDecoder returns the Decoder for imageType via factory lookup. ok
// is false for types the core
// detects but does not decode (spec §4.6 "must be detected and logged
// not crashed on").
func GetDecoder(imageType uint8) (Decoder, bool) {
	switch imageType {
	case wire.ImageBitmap:
		return bitmapDecoder{}, true
	case wire.ImageJPEG:
		return jpegDecoder{}, true
	case wire.ImageJPEGAlpha:
		return jpegAlphaDecoder{}, true
	case wire.ImageLZ4:
		return lz4Decoder{}, true
	case wire.ImageZlibGlzRGB:
		return zlibGlzDecoder{}, true
	case wire.ImageFromCache, wire.ImageFromCacheLossless:
		return fromCacheDecoder{}, true
	default:
		return nil, false
	}
}

// UnsupportedImageType reports whether imageType is a recognized-but-
// out-of-scope format that must be logged rather than treated as
// unknown (spec §4.6: QUIC, LZ_RGB, LZ_PLT, GLZ_RGB, SURFACE).
func UnsupportedImageType(imageType uint8) bool {
	switch imageType {
	case wire.ImageQUIC, wire.ImageLZRGB, wire.ImageLZPLT, wire.ImageGlzRGB, wire.ImageSurface:
		return true
	default:
		return false
	}
}

type bitmapDecoder struct{}

func (bitmapDecoder) Decode(typeData []byte, ctx decodeCtx) (*Image, error) {
	bh, ok := wire.DecodeBitmapHeader(typeData)
	if !ok {
		return nil, fmt.Errorf("spice: short BITMAP header (%d bytes)", len(typeData))
	}
	pixels := typeData[wire.BitmapHeaderSize:]
	w, h := ctx.header.Width, ctx.header.Height

	switch bh.Format {
	case wire.PixelFormatRGBA32:
		return rgbaFrom(pixels, w, h, 4, rgba32ToRGBA)
	case wire.PixelFormatRGB24:
		return rgbaFrom(pixels, w, h, 3, rgb24ToRGBA)
	case wire.PixelFormatPAL8:
		palette, err := resolvePalette(ctx.body, bh.Palette, ctx.paletteCache)
		if err != nil {
			return nil, err
		}
		return rgbaFromPalette(pixels, w, h, palette)
	default:
		return nil, fmt.Errorf("spice: unsupported BITMAP pixel format %d", bh.Format)
	}
}

func rgbaFrom(pixels []byte, w, h uint32, bpp int, convert func([]byte) (r, g, b, a byte)) (*Image, error) {
	need := int(w) * int(h) * bpp
	if len(pixels) < need {
		return nil, fmt.Errorf("spice: bitmap data too short: have %d, need %d", len(pixels), need)
	}
	out := make([]byte, int(w)*int(h)*4)
	for i := 0; i < int(w)*int(h); i++ {
		r, g, b, a := convert(pixels[i*bpp : i*bpp+bpp])
		out[i*4+0], out[i*4+1], out[i*4+2], out[i*4+3] = r, g, b, a
	}
	return &Image{Width: w, Height: h, Pix: out}, nil
}

func rgba32ToRGBA(p []byte) (r, g, b, a byte) { return p[0], p[1], p[2], p[3] }
func rgb24ToRGBA(p []byte) (r, g, b, a byte)  { return p[0], p[1], p[2], 0xFF }

func rgbaFromPalette(indices []byte, w, h uint32, palette []byte) (*Image, error) {
	need := int(w) * int(h)
	if len(indices) < need {
		return nil, fmt.Errorf("spice: palette bitmap data too short: have %d, need %d", len(indices), need)
	}
	out := make([]byte, need*4)
	for i := 0; i < need; i++ {
		idx := int(indices[i])
		if idx*4+4 > len(palette) {
			continue
		}
		copy(out[i*4:i*4+4], palette[idx*4:idx*4+4])
	}
	return &Image{Width: w, Height: h, Pix: out}, nil
}

// resolvePalette resolves a PAL8 BITMAP's palette reference (spec §3
// "Palette Cache"): a fresh palette block carries its own color table
// and, when PaletteFlagCacheMe is set, is stored under its unique id so
// later bitmaps can reference it with PaletteFlagFromCache instead of
// resending the table.
func resolvePalette(body []byte, addr wire.SpiceAddress, cache *PaletteCache) ([]byte, error) {
	headerBytes, encoded, err := wire.Resolve(body, addr, wire.PaletteHeaderSize)
	if err != nil {
		return nil, err
	}
	if encoded || headerBytes == nil {
		return nil, fmt.Errorf("spice: PAL8 bitmap without a resolvable palette")
	}
	hdr, ok := wire.DecodePaletteHeader(headerBytes)
	if !ok {
		return nil, fmt.Errorf("spice: short palette header")
	}
	if hdr.Flags&wire.PaletteFlagFromCache != 0 {
		entries, ok := cache.Get(hdr.Unique)
		if !ok {
			return nil, fmt.Errorf("spice: palette cache miss for id %d", hdr.Unique)
		}
		return entries, nil
	}
	entriesLen := int(hdr.NumEnts) * 4
	off := int(addr.SimpleOffset()) + wire.PaletteHeaderSize
	if off+entriesLen > len(body) {
		return nil, fmt.Errorf("spice: palette entries truncated: have %d, need %d", len(body)-off, entriesLen)
	}
	entries := body[off : off+entriesLen]
	if hdr.Flags&wire.PaletteFlagCacheMe != 0 {
		cache.Put(hdr.Unique, entries)
	}
	return entries, nil
}

type jpegDecoder struct{}

func (jpegDecoder) Decode(typeData []byte, ctx decodeCtx) (*Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(typeData))
	if err != nil {
		return nil, fmt.Errorf("spice: decoding JPEG image: %w", err)
	}
	return fromGoImage(img, nil), nil
}

type jpegAlphaDecoder struct{}

// Decode parses a length-prefixed JPEG blob followed by a raw 8-bit
// alpha plane: `jpeg_len: u32, jpeg_bytes[jpeg_len], alpha[width*height]`.
func (jpegAlphaDecoder) Decode(typeData []byte, ctx decodeCtx) (*Image, error) {
	if len(typeData) < 4 {
		return nil, fmt.Errorf("spice: short JPEG_ALPHA body")
	}
	jpegLen := int(typeData[0]) | int(typeData[1])<<8 | int(typeData[2])<<16 | int(typeData[3])<<24
	if 4+jpegLen > len(typeData) {
		return nil, fmt.Errorf("spice: JPEG_ALPHA jpeg_len exceeds body")
	}
	img, err := jpeg.Decode(bytes.NewReader(typeData[4 : 4+jpegLen]))
	if err != nil {
		return nil, fmt.Errorf("spice: decoding JPEG_ALPHA image: %w", err)
	}
	alpha := typeData[4+jpegLen:]
	return fromGoImage(img, alpha), nil
}

func fromGoImage(img image.Image, alpha []byte) *Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := (y*w + x) * 4
			out[i+0] = byte(r >> 8)
			out[i+1] = byte(g >> 8)
			out[i+2] = byte(b >> 8)
			if alpha != nil && y*w+x < len(alpha) {
				out[i+3] = alpha[y*w+x]
			} else {
				out[i+3] = 0xFF
			}
		}
	}
	return &Image{Width: uint32(w), Height: uint32(h), Pix: out}
}

type lz4Decoder struct{}

func (lz4Decoder) Decode(typeData []byte, ctx decodeCtx) (*Image, error) {
	hdr, ok := wire.DecodeLZ4Header(typeData)
	if !ok {
		return nil, fmt.Errorf("spice: short LZ4 header")
	}
	bpp := wire.BytesPerPixel(hdr.InnerFormat)
	if bpp == 0 {
		return nil, fmt.Errorf("spice: unsupported LZ4 inner format %d", hdr.InnerFormat)
	}
	want := int(ctx.header.Width) * int(ctx.header.Height) * bpp
	dst := make([]byte, want)
	n, err := lz4.UncompressBlock(typeData[wire.LZ4HeaderSize:], dst)
	if err != nil {
		return nil, fmt.Errorf("spice: LZ4 decompress: %w", err)
	}
	if n != want {
		return nil, fmt.Errorf("spice: LZ4 decompressed %d bytes, want %d", n, want)
	}
	switch hdr.InnerFormat {
	case wire.PixelFormatRGBA32:
		return rgbaFrom(dst, ctx.header.Width, ctx.header.Height, 4, rgba32ToRGBA)
	default:
		return rgbaFrom(dst, ctx.header.Width, ctx.header.Height, 3, rgb24ToRGBA)
	}
}

// zlibGlzDecoder unwraps the Zlib container and treats the decompressed
// bytes as raw RGB24 pixels. Real GLZ dictionary-delta decoding is out
// of scope for this core (spec §4.6: "inner GLZ MAY be a stub").
type zlibGlzDecoder struct{}

func (zlibGlzDecoder) Decode(typeData []byte, ctx decodeCtx) (*Image, error) {
	zr, err := zlib.NewReader(bytes.NewReader(typeData))
	if err != nil {
		return nil, fmt.Errorf("spice: opening ZLIB_GLZ_RGB stream: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("spice: inflating ZLIB_GLZ_RGB: %w", err)
	}
	return rgbaFrom(raw, ctx.header.Width, ctx.header.Height, 3, rgb24ToRGBA)
}

type fromCacheDecoder struct{}

func (fromCacheDecoder) Decode(typeData []byte, ctx decodeCtx) (*Image, error) {
	img, ok := ctx.cache.Get(ctx.header.ID)
	if !ok {
		return nil, fmt.Errorf("spice: FROM_CACHE miss for image id %d", ctx.header.ID)
	}
	return img, nil
}
