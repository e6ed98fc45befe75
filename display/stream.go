package display

import (
	"bytes"
	"image/jpeg"

	"spice/wire"
)

// stream is a live video stream descriptor (spec §4.6 STREAM_CREATE).
// Only MJPEG is mandatory; other codec types are accepted but their
// frames are dropped with a log line.
type stream struct {
	id        uint32
	codecType uint8
	dest      wire.Rect
	clip      wire.Clip

	reportUniqueID      uint32
	reportMaxWindow     uint32
	reportEvery         uint32
	framesSinceReport   uint32
	dropsSinceReport    uint32
}

func newStream(c *wire.StreamCreate) *stream {
	return &stream{id: c.ID, codecType: c.CodecType, dest: c.Dest, clip: c.Clip}
}

// decodeFrame decodes one MJPEG frame. Non-MJPEG codecs return
// (nil, false) so the caller can count the frame as dropped without
// logging a decode error for every single frame.
func (s *stream) decodeFrame(data []byte) (*Image, bool) {
	if s.codecType != wire.StreamCodecMJPEG {
		return nil, false
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	return fromGoImage(img, nil), true
}
