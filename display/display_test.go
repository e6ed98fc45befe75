package display

import (
	"bytes"
	"encoding/binary"
	"testing"

	"spice/wire"
)

func encodeClip(typ uint8) []byte {
	buf := make([]byte, wire.ClipSize)
	buf[0] = typ
	return buf
}

func encodeDrawBase(surfaceID uint32, box wire.Rect) []byte {
	var buf bytes.Buffer
	b4 := make([]byte, 4)
	binary.LittleEndian.PutUint32(b4, surfaceID)
	buf.Write(b4)
	box.Encode(&buf)
	buf.Write(encodeClip(wire.ClipTypeNone))
	return buf.Bytes()
}

func encodeBrush(typ uint8, argb uint32) []byte {
	buf := make([]byte, 8)
	buf[0] = typ
	binary.LittleEndian.PutUint32(buf[4:8], argb)
	return buf
}

func encodeDrawFill(surfaceID uint32, box wire.Rect, argb uint32) []byte {
	var buf bytes.Buffer
	buf.Write(encodeDrawBase(surfaceID, box))
	buf.Write(encodeBrush(wire.BrushSolid, argb))
	rop := make([]byte, 2)
	buf.Write(rop)
	return buf.Bytes()
}

func encodeSurfaceCreate(id, w, h uint32) []byte {
	buf := make([]byte, wire.SurfaceCreateSize)
	binary.LittleEndian.PutUint32(buf[0:4], id)
	binary.LittleEndian.PutUint32(buf[4:8], w)
	binary.LittleEndian.PutUint32(buf[8:12], h)
	binary.LittleEndian.PutUint32(buf[12:16], wire.SurfaceFormatARGB32)
	return buf
}

// TestDrawPathScenario covers scenario S5: SURFACE_CREATE then
// DRAW_FILL, checking a pixel inside the filled rect reads back as
// opaque red.
func TestDrawPathScenario(t *testing.T) {
	d := New(Config{CacheCapacity: 16}, nil)

	if err := d.HandleMessage(wire.MsgDisplaySurfaceCreate, encodeSurfaceCreate(0, 1024, 768)); err != nil {
		t.Fatalf("SURFACE_CREATE: %v", err)
	}

	box := wire.Rect{Top: 0, Left: 0, Bottom: 768, Right: 1024}
	fillBody := encodeDrawFill(0, box, 0xFFFF0000) // opaque red, ARGB
	if err := d.HandleMessage(wire.MsgDisplayDrawFill, fillBody); err != nil {
		t.Fatalf("DRAW_FILL: %v", err)
	}

	s := d.Surface()
	if s == nil {
		t.Fatal("expected primary surface to exist")
	}
	px := s.At(10, 10)
	if px == nil {
		t.Fatal("pixel (10,10) out of bounds")
	}
	if px[0] != 0xFF || px[1] != 0x00 || px[2] != 0x00 || px[3] != 0xFF {
		t.Fatalf("pixel (10,10) = %v, want opaque red [FF 00 00 FF]", px)
	}
}

// TestSurfaceInvariants covers testable property #10: a DRAW_* to a
// surface that was never created is a no-op, logged but not fatal.
func TestSurfaceInvariants(t *testing.T) {
	d := New(Config{}, nil)
	box := wire.Rect{Top: 0, Left: 0, Bottom: 10, Right: 10}
	err := d.HandleMessage(wire.MsgDisplayDrawFill, encodeDrawFill(99, box, 0xFFFFFFFF))
	if err != nil {
		t.Fatalf("expected DRAW_FILL to a missing surface to be a non-fatal no-op, got %v", err)
	}
}

// TestImageCacheRoundTrip covers testable property #9 at the cache
// level: an image stored with Put (the CACHE_ME path) then looked up
// with Get (the FROM_CACHE path) returns identical pixels; after
// InvalAll (what INVAL_ALL_PIXMAPS calls) the same lookup fails.
func TestImageCacheRoundTrip(t *testing.T) {
	cache := NewCache(8)
	img := &Image{Width: 2, Height: 2, Pix: []byte{
		0xFF, 0, 0, 0xFF,
		0, 0xFF, 0, 0xFF,
		0, 0, 0xFF, 0xFF,
		0xFF, 0xFF, 0xFF, 0xFF,
	}}
	cache.Put(42, img)

	got, ok := cache.Get(42)
	if !ok {
		t.Fatal("expected cache hit for id 42")
	}
	if !bytes.Equal(got.Pix, img.Pix) {
		t.Fatalf("cached pixels differ: got %v, want %v", got.Pix, img.Pix)
	}

	cache.InvalAll()
	if _, ok := cache.Get(42); ok {
		t.Fatal("expected cache miss after InvalAll")
	}
}

func TestCacheEviction(t *testing.T) {
	cache := NewCache(2)
	cache.Put(1, &Image{})
	cache.Put(2, &Image{})
	cache.Put(3, &Image{}) // evicts id 1 (least recently used)

	if _, ok := cache.Get(1); ok {
		t.Fatal("expected id 1 to be evicted")
	}
	if _, ok := cache.Get(2); !ok {
		t.Fatal("expected id 2 to remain cached")
	}
	if _, ok := cache.Get(3); !ok {
		t.Fatal("expected id 3 to remain cached")
	}
}

// encodePaletteBlock builds a message body with a 1-byte pad followed
// by a palette block at offset 1, since SpiceAddress 0 means "absent"
// (spec §3/§4.6) and a real palette reference is never placed at the
// very start of a body.
func encodePaletteBlock(unique uint64, flags uint8, entries []byte) []byte {
	buf := make([]byte, 1+wire.PaletteHeaderSize+len(entries))
	binary.LittleEndian.PutUint64(buf[1:9], unique)
	buf[9] = flags
	binary.LittleEndian.PutUint16(buf[10:12], uint16(len(entries)/4))
	copy(buf[1+wire.PaletteHeaderSize:], entries)
	return buf
}

// TestPaletteCacheRoundTrip covers spec §3's Palette Cache at the cache
// level: a palette stored with Put is retrievable by id with Get, and
// InvalAll (what INVAL_ALL_PALETTES and RESET call) clears it.
func TestPaletteCacheRoundTrip(t *testing.T) {
	cache := NewPaletteCache(8)
	entries := []byte{
		0xFF, 0, 0, 0xFF,
		0, 0xFF, 0, 0xFF,
	}
	cache.Put(7, entries)

	got, ok := cache.Get(7)
	if !ok {
		t.Fatal("expected cache hit for palette id 7")
	}
	if !bytes.Equal(got, entries) {
		t.Fatalf("cached palette differs: got %v, want %v", got, entries)
	}

	cache.InvalAll()
	if _, ok := cache.Get(7); ok {
		t.Fatal("expected cache miss after InvalAll")
	}
}

func TestPaletteCacheEviction(t *testing.T) {
	cache := NewPaletteCache(2)
	cache.Put(1, []byte{0, 0, 0, 0})
	cache.Put(2, []byte{0, 0, 0, 0})
	cache.Put(3, []byte{0, 0, 0, 0}) // evicts id 1 (least recently used)

	if _, ok := cache.Get(1); ok {
		t.Fatal("expected palette id 1 to be evicted")
	}
	if _, ok := cache.Get(3); !ok {
		t.Fatal("expected palette id 3 to remain cached")
	}
}

// TestResolvePaletteCacheMeThenFromCache covers a PAL8 bitmap first
// sending its palette inline with CACHE_ME set, then a later bitmap
// referencing the same palette by id with FROM_CACHE and no entries.
func TestResolvePaletteCacheMeThenFromCache(t *testing.T) {
	cache := NewPaletteCache(8)
	entries := []byte{
		0xFF, 0, 0, 0xFF,
		0, 0xFF, 0, 0xFF,
	}
	body1 := encodePaletteBlock(99, wire.PaletteFlagCacheMe, entries)

	got, err := resolvePalette(body1, wire.SpiceAddress(1), cache)
	if err != nil {
		t.Fatalf("resolvePalette (inline): %v", err)
	}
	if !bytes.Equal(got, entries) {
		t.Fatalf("resolved palette differs: got %v, want %v", got, entries)
	}

	body2 := encodePaletteBlock(99, wire.PaletteFlagFromCache, nil)
	got2, err := resolvePalette(body2, wire.SpiceAddress(1), cache)
	if err != nil {
		t.Fatalf("resolvePalette (from cache): %v", err)
	}
	if !bytes.Equal(got2, entries) {
		t.Fatalf("from-cache palette differs: got %v, want %v", got2, entries)
	}
}

func TestResolvePaletteFromCacheMiss(t *testing.T) {
	cache := NewPaletteCache(8)
	body := encodePaletteBlock(123, wire.PaletteFlagFromCache, nil)
	if _, err := resolvePalette(body, wire.SpiceAddress(1), cache); err == nil {
		t.Fatal("expected an error for an uncached FROM_CACHE palette reference")
	}
}

// TestInvalPaletteMessages covers INVAL_PALETTE and INVAL_ALL_PALETTES
// dispatched through Display.HandleMessage.
func TestInvalPaletteMessages(t *testing.T) {
	d := New(Config{}, nil)
	d.paletteCache.Put(5, []byte{1, 2, 3, 4})
	d.paletteCache.Put(6, []byte{5, 6, 7, 8})

	invalBody := make([]byte, 8)
	binary.LittleEndian.PutUint64(invalBody, 5)
	if err := d.HandleMessage(wire.MsgDisplayInvalPalette, invalBody); err != nil {
		t.Fatalf("INVAL_PALETTE: %v", err)
	}
	if _, ok := d.paletteCache.Get(5); ok {
		t.Fatal("expected palette 5 to be invalidated")
	}
	if _, ok := d.paletteCache.Get(6); !ok {
		t.Fatal("expected palette 6 to remain cached")
	}

	if err := d.HandleMessage(wire.MsgDisplayInvalAllPalettes, nil); err != nil {
		t.Fatalf("INVAL_ALL_PALETTES: %v", err)
	}
	if _, ok := d.paletteCache.Get(6); ok {
		t.Fatal("expected palette 6 to be invalidated after INVAL_ALL_PALETTES")
	}
}
