package wire

import "encoding/binary"

// Clip types (spec §4.6 "Drawing commands").
const (
	ClipTypeNone  uint8 = 0
	ClipTypeRects uint8 = 1
)

// ClipSize is the packed size of a Clip descriptor: type(1) +
// padding(3) + data(8, SpiceAddress) = 12 bytes.
const ClipSize = 12

// Clip is the `{type, padding[3], data}` prefix shared by every draw
// command (spec §4.6).
type Clip struct {
	Type uint8
	Data SpiceAddress
}

func decodeClip(b []byte) (Clip, bool) {
	if len(b) < ClipSize {
		return Clip{}, false
	}
	return Clip{Type: b[0], Data: SpiceAddress(binary.LittleEndian.Uint64(b[4:12]))}, true
}

// DecodeClipRects resolves a RECTS clip's `{count: u32, rects[count]}`
// payload out of body at the clip's address.
func DecodeClipRects(body []byte, clip Clip) ([]Rect, error) {
	if clip.Type != ClipTypeRects {
		return nil, nil
	}
	header, _, err := Resolve(body, clip.Data, 4)
	if err != nil {
		return nil, err
	}
	if header == nil {
		return nil, nil // encoded or absent address; skip with no rects
	}
	count := binary.LittleEndian.Uint32(header)
	off := int(clip.Data.SimpleOffset()) + 4
	rectsLen := int(count) * RectSize
	if off+rectsLen > len(body) {
		return nil, errShortBody
	}
	rects := make([]Rect, count)
	for i := range rects {
		rects[i] = DecodeRect(body[off+i*RectSize : off+(i+1)*RectSize])
	}
	return rects, nil
}

// DrawBaseSize is the packed size of DrawBase: surface_id(4) + box(16,
// Rect) + clip(12) = 32 bytes.
const DrawBaseSize = 32

// DrawBase is the common prefix of every DRAW_* command.
type DrawBase struct {
	SurfaceID uint32
	Box       Rect
	Clip      Clip
}

func decodeDrawBase(b []byte) (DrawBase, int, bool) {
	if len(b) < DrawBaseSize {
		return DrawBase{}, 0, false
	}
	surfaceID := binary.LittleEndian.Uint32(b[0:4])
	box := DecodeRect(b[4:20])
	clip, ok := decodeClip(b[20:32])
	if !ok {
		return DrawBase{}, 0, false
	}
	return DrawBase{SurfaceID: surfaceID, Box: box, Clip: clip}, DrawBaseSize, true
}

// Brush types.
const (
	BrushNone    uint8 = 0
	BrushSolid   uint8 = 1
	BrushPattern uint8 = 2
)

// Brush is a fill/stroke color source; pattern brushes carry their
// average color in Color as a degraded-rendering fallback (spec §4.6).
type Brush struct {
	Type  uint8
	Color uint32 // ARGB
}

// brushSize is Type(1) + padding(3) + Color(4) = 8 bytes.
const brushSize = 8

func decodeBrush(b []byte) (Brush, bool) {
	if len(b) < brushSize {
		return Brush{}, false
	}
	return Brush{Type: b[0], Color: binary.LittleEndian.Uint32(b[4:8])}, true
}

// ROP3 descriptor value for a plain source copy. The display handlers do
// not inspect the rop descriptor: DRAW_FILL and the COPY family render as
// a straight fill or copy whatever its value, and no notice is logged
// for other values.
const Rop3CopyOnly uint16 = 0x00CC

// DrawFill is DRAW_FILL's body after DrawBase.
type DrawFill struct {
	Base  DrawBase
	Brush Brush
	Rop   uint16
}

// DecodeDrawFill parses a DRAW_FILL body.
func DecodeDrawFill(body []byte) (*DrawFill, bool) {
	base, n, ok := decodeDrawBase(body)
	if !ok {
		return nil, false
	}
	rest := body[n:]
	brush, ok := decodeBrush(rest)
	if !ok {
		return nil, false
	}
	rest = rest[brushSize:]
	if len(rest) < 2 {
		return nil, false
	}
	rop := binary.LittleEndian.Uint16(rest[0:2])
	return &DrawFill{Base: base, Brush: brush, Rop: rop}, true
}

// ScaleMode values for DRAW_COPY (spec §4.6).
const (
	ScaleModeInterpolate uint8 = 0
	ScaleModeNearest     uint8 = 1
)

// DrawCopy is shared by DRAW_COPY, DRAW_OPAQUE (with an added brush),
// DRAW_BLEND, DRAW_TRANSPARENT, and DRAW_ALPHA_BLEND: all carry a source
// bitmap address, a source rectangle, and a rop descriptor.
type DrawCopy struct {
	Base      DrawBase
	SrcBitmap SpiceAddress
	SrcArea   Rect
	Rop       uint16
	ScaleMode uint8
}

// DecodeDrawCopy parses the common COPY-shaped body: base(32) +
// src_bitmap(8) + src_area(16) + rop(2) + scale_mode(1) = 59 bytes
// minimum, ignoring any trailing brush/mask fields specific to variants.
func DecodeDrawCopy(body []byte) (*DrawCopy, bool) {
	base, n, ok := decodeDrawBase(body)
	if !ok {
		return nil, false
	}
	rest := body[n:]
	if len(rest) < 8+RectSize+2+1 {
		return nil, false
	}
	src := SpiceAddress(binary.LittleEndian.Uint64(rest[0:8]))
	area := DecodeRect(rest[8 : 8+RectSize])
	off := 8 + RectSize
	rop := binary.LittleEndian.Uint16(rest[off : off+2])
	scaleMode := rest[off+2]
	return &DrawCopy{Base: base, SrcBitmap: src, SrcArea: area, Rop: rop, ScaleMode: scaleMode}, true
}

// SurfaceCreate formats.
const (
	SurfaceFormatInvalid uint32 = 0
	SurfaceFormatARGB32  uint32 = 32
	SurfaceFormatRGB24   uint32 = 24
)

// SurfaceCreateSize is surface_id(4) + width(4) + height(4) + format(4)
// + flags(4) = 20 bytes.
const SurfaceCreateSize = 20

// SurfaceCreate is SURFACE_CREATE's body.
type SurfaceCreate struct {
	SurfaceID uint32
	Width     uint32
	Height    uint32
	Format    uint32
	Flags     uint32
}

// DecodeSurfaceCreate parses a SURFACE_CREATE body.
func DecodeSurfaceCreate(body []byte) (*SurfaceCreate, bool) {
	if len(body) < SurfaceCreateSize {
		return nil, false
	}
	return &SurfaceCreate{
		SurfaceID: binary.LittleEndian.Uint32(body[0:4]),
		Width:     binary.LittleEndian.Uint32(body[4:8]),
		Height:    binary.LittleEndian.Uint32(body[8:12]),
		Format:    binary.LittleEndian.Uint32(body[12:16]),
		Flags:     binary.LittleEndian.Uint32(body[16:20]),
	}, true
}

// DecodeSurfaceDestroy parses a SURFACE_DESTROY body: surface_id(4).
func DecodeSurfaceDestroy(body []byte) (uint32, bool) {
	if len(body) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(body[0:4]), true
}

// Monitor is one entry of MONITORS_CONFIG.
type Monitor struct {
	ID        uint32
	SurfaceID uint32
	Width     int32
	Height    int32
	X         int32
	Y         int32
	Flags     uint32
}

const monitorSize = 28

// DecodeMonitorsConfig parses MONITORS_CONFIG: count(2) + padding(2) +
// count*Monitor.
func DecodeMonitorsConfig(body []byte) ([]Monitor, bool) {
	if len(body) < 4 {
		return nil, false
	}
	count := binary.LittleEndian.Uint16(body[0:2])
	off := 4
	if off+int(count)*monitorSize > len(body) {
		return nil, false
	}
	out := make([]Monitor, count)
	for i := range out {
		b := body[off+i*monitorSize:]
		out[i] = Monitor{
			ID:        binary.LittleEndian.Uint32(b[0:4]),
			SurfaceID: binary.LittleEndian.Uint32(b[4:8]),
			Width:     int32(binary.LittleEndian.Uint32(b[8:12])),
			Height:    int32(binary.LittleEndian.Uint32(b[12:16])),
			X:         int32(binary.LittleEndian.Uint32(b[16:20])),
			Y:         int32(binary.LittleEndian.Uint32(b[20:24])),
			Flags:     binary.LittleEndian.Uint32(b[24:28]),
		}
	}
	return out, true
}

// SpiceImageHeaderSize is id(8) + type(1) + flags(1) + width(4) +
// height(4) = 18 bytes.
const SpiceImageHeaderSize = 18

// Image type tags (spec §4.6). Values are this core's own numbering.
const (
	ImageBitmap             uint8 = 0
	ImageJPEG               uint8 = 1
	ImageJPEGAlpha          uint8 = 2
	ImageLZ4                uint8 = 3
	ImageZlibGlzRGB         uint8 = 4
	ImageFromCache          uint8 = 5
	ImageFromCacheLossless  uint8 = 6
	ImageQUIC               uint8 = 7
	ImageLZRGB              uint8 = 8
	ImageLZPLT              uint8 = 9
	ImageGlzRGB             uint8 = 10
	ImageSurface            uint8 = 11
)

// ImageCacheMe is the flag bit requesting the decoded pixel buffer be
// stored in the image cache under Header.ID.
const ImageCacheMe uint8 = 1 << 0

// SpiceImageHeader is the fixed prefix of every SpiceImage.
type SpiceImageHeader struct {
	ID     uint64
	Type   uint8
	Flags  uint8
	Width  uint32
	Height uint32
}

// DecodeSpiceImageHeader parses the 18-byte SpiceImage header.
func DecodeSpiceImageHeader(b []byte) (*SpiceImageHeader, bool) {
	if len(b) < SpiceImageHeaderSize {
		return nil, false
	}
	return &SpiceImageHeader{
		ID:     binary.LittleEndian.Uint64(b[0:8]),
		Type:   b[8],
		Flags:  b[9],
		Width:  binary.LittleEndian.Uint32(b[10:14]),
		Height: binary.LittleEndian.Uint32(b[14:18]),
	}, true
}

// Pixel formats for BITMAP/LZ4 inner data.
const (
	PixelFormatRGBA32 uint8 = 0
	PixelFormatRGB24  uint8 = 1
	PixelFormatPAL8   uint8 = 2
)

// BytesPerPixel returns the raw pixel stride unit for format (1 for
// PAL8, one palette index per pixel), or 0 for an unrecognized format.
func BytesPerPixel(format uint8) int {
	switch format {
	case PixelFormatRGBA32:
		return 4
	case PixelFormatRGB24:
		return 3
	case PixelFormatPAL8:
		return 1
	default:
		return 0
	}
}

// BitmapHeaderSize is format(1) + padding(3) + palette(8) + stride(4) =
// 16 bytes, the fixed part of a BITMAP image's type-specific data.
const BitmapHeaderSize = 16

// BitmapHeader is BITMAP's type-specific fixed fields.
type BitmapHeader struct {
	Format  uint8
	Palette SpiceAddress
	Stride  uint32
}

// DecodeBitmapHeader parses BITMAP's 16-byte type-specific header.
func DecodeBitmapHeader(b []byte) (*BitmapHeader, bool) {
	if len(b) < BitmapHeaderSize {
		return nil, false
	}
	return &BitmapHeader{
		Format:  b[0],
		Palette: SpiceAddress(binary.LittleEndian.Uint64(b[4:12])),
		Stride:  binary.LittleEndian.Uint32(b[12:16]),
	}, true
}

// LZ4HeaderSize is inner_format(1) + padding(3) + stride(4) = 8 bytes.
const LZ4HeaderSize = 8

// LZ4Header is LZ4's type-specific fixed fields, preceding the
// compressed block.
type LZ4Header struct {
	InnerFormat uint8
	Stride      uint32
}

// DecodeLZ4Header parses LZ4's 8-byte type-specific header.
func DecodeLZ4Header(b []byte) (*LZ4Header, bool) {
	if len(b) < LZ4HeaderSize {
		return nil, false
	}
	return &LZ4Header{InnerFormat: b[0], Stride: binary.LittleEndian.Uint32(b[4:8])}, true
}

// StreamCreate codec types; only MJPEG is mandatory (spec §4.6).
const (
	StreamCodecMJPEG uint8 = 0
)

// StreamCreateSize is id(4) + flags(1) + codec_type(1) + padding(2) +
// stream_width(4) + stream_height(4) + src_width(4) + src_height(4) +
// src_rect(16) + dest(16) + clip(12) = 68 bytes.
const StreamCreateSize = 68

// StreamCreate is STREAM_CREATE's body.
type StreamCreate struct {
	ID            uint32
	Flags         uint8
	CodecType     uint8
	StreamWidth   uint32
	StreamHeight  uint32
	SrcWidth      uint32
	SrcHeight     uint32
	SrcRect       Rect
	Dest          Rect
	Clip          Clip
}

// DecodeStreamCreate parses a STREAM_CREATE body.
func DecodeStreamCreate(body []byte) (*StreamCreate, bool) {
	if len(body) < StreamCreateSize {
		return nil, false
	}
	clip, ok := decodeClip(body[56:68])
	if !ok {
		return nil, false
	}
	return &StreamCreate{
		ID:           binary.LittleEndian.Uint32(body[0:4]),
		Flags:        body[4],
		CodecType:    body[5],
		StreamWidth:  binary.LittleEndian.Uint32(body[8:12]),
		StreamHeight: binary.LittleEndian.Uint32(body[12:16]),
		SrcWidth:     binary.LittleEndian.Uint32(body[16:20]),
		SrcHeight:    binary.LittleEndian.Uint32(body[20:24]),
		SrcRect:      DecodeRect(body[24:40]),
		Dest:         DecodeRect(body[40:56]),
		Clip:         clip,
	}, true
}

// StreamDataHeaderSize is id(4) + multi_media_time(4) + data_size(4) =
// 12 bytes, followed by data_size bytes of codec data.
const StreamDataHeaderSize = 12

// StreamData is STREAM_DATA's fixed prefix.
type StreamData struct {
	ID             uint32
	MultiMediaTime uint32
	DataSize       uint32
}

// DecodeStreamData parses STREAM_DATA's 12-byte prefix and returns the
// trailing data slice.
func DecodeStreamData(body []byte) (*StreamData, []byte, bool) {
	if len(body) < StreamDataHeaderSize {
		return nil, nil, false
	}
	d := &StreamData{
		ID:             binary.LittleEndian.Uint32(body[0:4]),
		MultiMediaTime: binary.LittleEndian.Uint32(body[4:8]),
		DataSize:       binary.LittleEndian.Uint32(body[8:12]),
	}
	end := StreamDataHeaderSize + int(d.DataSize)
	if end > len(body) {
		return nil, nil, false
	}
	return d, body[StreamDataHeaderSize:end], true
}

// StreamDataSizedHeaderSize adds width(4) + height(4) to StreamData's
// fixed prefix: id(4) + multi_media_time(4) + data_size(4) + width(4) +
// height(4) = 20 bytes.
const StreamDataSizedHeaderSize = 20

// DecodeStreamDataSized parses STREAM_DATA_SIZED.
func DecodeStreamDataSized(body []byte) (id, multiMediaTime, width, height uint32, data []byte, ok bool) {
	if len(body) < StreamDataSizedHeaderSize {
		return 0, 0, 0, 0, nil, false
	}
	dataSize := binary.LittleEndian.Uint32(body[8:12])
	id = binary.LittleEndian.Uint32(body[0:4])
	multiMediaTime = binary.LittleEndian.Uint32(body[4:8])
	width = binary.LittleEndian.Uint32(body[12:16])
	height = binary.LittleEndian.Uint32(body[16:20])
	end := StreamDataSizedHeaderSize + int(dataSize)
	if end > len(body) {
		return 0, 0, 0, 0, nil, false
	}
	return id, multiMediaTime, width, height, body[StreamDataSizedHeaderSize:end], true
}

// DecodeStreamClip parses STREAM_CLIP: id(4) + clip(12).
func DecodeStreamClip(body []byte) (id uint32, clip Clip, ok bool) {
	if len(body) < 16 {
		return 0, Clip{}, false
	}
	clip, ok = decodeClip(body[4:16])
	return binary.LittleEndian.Uint32(body[0:4]), clip, ok
}

// DecodeStreamID parses the common `{id: u32}` body shared by
// STREAM_DESTROY.
func DecodeStreamID(body []byte) (uint32, bool) {
	if len(body) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(body[0:4]), true
}

// StreamActivateReportSize is stream_id(4) + unique_id(4) +
// max_window_size(4) + timeout_ms(4) = 16 bytes.
const StreamActivateReportSize = 16

// StreamActivateReport is STREAM_ACTIVATE_REPORT's body.
type StreamActivateReport struct {
	StreamID      uint32
	UniqueID      uint32
	MaxWindowSize uint32
	TimeoutMs     uint32
}

// DecodeStreamActivateReport parses STREAM_ACTIVATE_REPORT.
func DecodeStreamActivateReport(body []byte) (*StreamActivateReport, bool) {
	if len(body) < StreamActivateReportSize {
		return nil, false
	}
	return &StreamActivateReport{
		StreamID:      binary.LittleEndian.Uint32(body[0:4]),
		UniqueID:      binary.LittleEndian.Uint32(body[4:8]),
		MaxWindowSize: binary.LittleEndian.Uint32(body[8:12]),
		TimeoutMs:     binary.LittleEndian.Uint32(body[12:16]),
	}, true
}

// EncodeStreamReport builds a MSGC_DISPLAY_STREAM_REPORT body:
// stream_id(4) + unique_id(4) + frame_count(4) + drop_count(4).
func EncodeStreamReport(streamID, uniqueID, frameCount, dropCount uint32) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], streamID)
	binary.LittleEndian.PutUint32(buf[4:8], uniqueID)
	binary.LittleEndian.PutUint32(buf[8:12], frameCount)
	binary.LittleEndian.PutUint32(buf[12:16], dropCount)
	return buf
}

// EncodeDisplayInit builds the mandatory MSGC_DISPLAY_INIT body:
// cache_id(1) + cache_size(8) + glz_dict_id(1) = 10 bytes.
func EncodeDisplayInit(cacheID uint8, cacheSize int64, glzDictID uint8) []byte {
	buf := make([]byte, 10)
	buf[0] = cacheID
	binary.LittleEndian.PutUint64(buf[1:9], uint64(cacheSize))
	buf[9] = glzDictID
	return buf
}

// PaletteFlagCacheMe requests the decoded palette be stored in the
// palette cache under Unique (spec §3 "Palette Cache").
const PaletteFlagCacheMe uint8 = 1 << 0

// PaletteFlagFromCache means Entries is omitted from the wire; the
// palette must be resolved from the cache by Unique instead.
const PaletteFlagFromCache uint8 = 1 << 1

// PaletteHeaderSize is unique(8) + flags(1) + num_ents(2) = 11 bytes,
// the fixed prefix of the palette block a BITMAP's PAL8 data addresses
// through BitmapHeader.Palette.
const PaletteHeaderSize = 11

// PaletteHeader is the fixed prefix of a palette block. NumEnts packed
// ARGB32 entries immediately follow unless Flags has
// PaletteFlagFromCache set, in which case no entries are present on the
// wire at all.
type PaletteHeader struct {
	Unique  uint64
	Flags   uint8
	NumEnts uint16
}

// DecodePaletteHeader parses the 11-byte palette header.
func DecodePaletteHeader(b []byte) (*PaletteHeader, bool) {
	if len(b) < PaletteHeaderSize {
		return nil, false
	}
	return &PaletteHeader{
		Unique:  binary.LittleEndian.Uint64(b[0:8]),
		Flags:   b[8],
		NumEnts: binary.LittleEndian.Uint16(b[9:11]),
	}, true
}

// DecodeInvalPalette parses INVAL_PALETTE's body: palette_id(8).
func DecodeInvalPalette(body []byte) (uint64, bool) {
	if len(body) < 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(body[0:8]), true
}
