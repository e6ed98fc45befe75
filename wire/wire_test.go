package wire

import (
	"bytes"
	"math/rand"
	"testing"
)

// TestMagicRoundTrip verifies testable property #1: the serialized link
// magic is exactly the four bytes R, E, D, Q in that order, and
// parse(serialize(h)) == h for random headers.
func TestMagicRoundTrip(t *testing.T) {
	if Magic != [4]byte{'R', 'E', 'D', 'Q'} {
		t.Fatalf("Magic = %v, want R,E,D,Q", Magic)
	}
	if got := MagicUint32(); got != 0x51444552 {
		t.Fatalf("MagicUint32() = %#x, want 0x51444552", got)
	}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		want := &LinkHeader{Major: 2, Minor: 2, Size: rng.Uint32()}
		var buf bytes.Buffer
		if err := want.Encode(&buf); err != nil {
			t.Fatalf("Encode: %v", err)
		}
		if !bytes.Equal(buf.Bytes()[0:4], []byte{'R', 'E', 'D', 'Q'}) {
			t.Fatalf("wire magic bytes = %v, want R,E,D,Q", buf.Bytes()[0:4])
		}
		got, err := DecodeLinkHeader(&buf)
		if err != nil {
			t.Fatalf("DecodeLinkHeader: %v", err)
		}
		if *got != *want {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
		}
	}
}

// TestPackedStructSizes verifies testable property #2: the exact byte
// sizes of every fixed-layout wire struct. Violating any of these
// immediately desynchronizes the protocol.
func TestPackedStructSizes(t *testing.T) {
	cases := []struct {
		name string
		got  int
		want int
	}{
		{"LinkHeader", LinkHeaderSize, 16},
		{"LinkMess", LinkMessSize, 22},
		{"DataHeader", DataHeaderSize, 18},
		{"MiniDataHeader", MiniDataHeaderSize, 6},
		{"LinkReplyData", LinkReplyDataSize, 178},
		{"Rect", RectSize, 16},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("%s size = %d, want %d", c.name, c.got, c.want)
		}
	}

	// Cross-check against actual Encode output length.
	var buf bytes.Buffer
	(&LinkHeader{}).Encode(&buf)
	if buf.Len() != LinkHeaderSize {
		t.Errorf("LinkHeader.Encode wrote %d bytes, want %d", buf.Len(), LinkHeaderSize)
	}
	buf.Reset()
	(&LinkMess{}).Encode(&buf)
	if buf.Len() != LinkMessSize {
		t.Errorf("LinkMess.Encode wrote %d bytes, want %d", buf.Len(), LinkMessSize)
	}
	buf.Reset()
	(&DataHeader{}).Encode(&buf)
	if buf.Len() != DataHeaderSize {
		t.Errorf("DataHeader.Encode wrote %d bytes, want %d", buf.Len(), DataHeaderSize)
	}
	buf.Reset()
	(&MiniDataHeader{}).Encode(&buf)
	if buf.Len() != MiniDataHeaderSize {
		t.Errorf("MiniDataHeader.Encode wrote %d bytes, want %d", buf.Len(), MiniDataHeaderSize)
	}
	buf.Reset()
	(&LinkReplyData{}).Encode(&buf)
	if buf.Len() != LinkReplyDataSize {
		t.Errorf("LinkReplyData.Encode wrote %d bytes, want %d", buf.Len(), LinkReplyDataSize)
	}
	buf.Reset()
	(&Rect{}).Encode(&buf)
	if buf.Len() != RectSize {
		t.Errorf("Rect.Encode wrote %d bytes, want %d", buf.Len(), RectSize)
	}
}

// TestRectFieldOrder verifies testable property #7: raw bytes
// [top=10, left=20, bottom=30, right=40] parse in that field order, not
// left/top/right/bottom.
func TestRectFieldOrder(t *testing.T) {
	raw := []byte{
		0x0A, 0, 0, 0,
		0x14, 0, 0, 0,
		0x1E, 0, 0, 0,
		0x28, 0, 0, 0,
	}
	var buf bytes.Buffer
	r := Rect{Top: 10, Left: 20, Bottom: 30, Right: 40}
	if err := r.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf.Bytes(), raw) {
		t.Fatalf("Rect.Encode = %v, want %v", buf.Bytes(), raw)
	}
	got := DecodeRect(raw)
	want := Rect{Top: 10, Left: 20, Bottom: 30, Right: 40}
	if got != want {
		t.Fatalf("DecodeRect = %+v, want %+v", got, want)
	}
}

func TestDataHeaderRoundTrip(t *testing.T) {
	h := &DataHeader{Serial: 42, Type: MsgMainInit, Size: 123, SubList: 0}
	var buf bytes.Buffer
	if err := h.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	got, err := DecodeDataHeader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if *got != *h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
}

func TestDecodeLinkHeaderBadMagic(t *testing.T) {
	var buf bytes.Buffer
	(&LinkHeader{Major: 2, Minor: 2}).Encode(&buf)
	b := buf.Bytes()
	b[1] ^= 0xFF // flip one magic byte
	if _, err := DecodeLinkHeader(bytes.NewReader(b)); err == nil {
		t.Fatal("expected bad magic error")
	}
}

func TestCapBits(t *testing.T) {
	var caps []uint32
	caps = SetCap(caps, CapDisplayCodecMJPEG)
	caps = SetCap(caps, CapDisplayStreamReport)
	if !HasCap(caps, CapDisplayCodecMJPEG) || !HasCap(caps, CapDisplayStreamReport) {
		t.Fatal("expected both bits set")
	}
	if HasCap(caps, CapDisplayLZ4Compression) {
		t.Fatal("unexpected bit set")
	}
	if HasCap(caps, 200) {
		t.Fatal("out-of-range bit must report false, not panic")
	}
}
