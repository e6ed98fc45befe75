package display

import (
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"spice/channel"
	"spice/wire"
)

// Display implements channel.Handler for the display channel (spec
// §4.6), the largest single component of the core.
type Display struct {
	logger *log.Logger

	cacheID   uint8
	cacheSize int64
	glzDictID uint8

	surfaces     *surfaceManager
	cache        *Cache
	paletteCache *PaletteCache

	mu      sync.Mutex
	ch      *channel.Channel
	streams map[uint32]*stream
	limiters map[uint32]*rate.Limiter
	monitors []wire.Monitor

	// OnUpdate is invoked after any state change that modifies the
	// primary surface's pixels (spec §4.6 "Update notification").
	// Notifications may be coalesced by the caller.
	OnUpdate func()

	// OnMark is invoked each time a MARK arrives, signalling the
	// display is now valid.
	OnMark func()
}

// Config configures the mandatory MSGC_DISPLAY_INIT announcement.
type Config struct {
	CacheID   uint8
	CacheSize int64
	GlzDictID uint8
	// CacheCapacity bounds the number of decoded images retained by the
	// image cache; <= 0 means unbounded.
	CacheCapacity int
	// PaletteCacheCapacity bounds the number of color tables retained by
	// the palette cache; <= 0 means unbounded.
	PaletteCacheCapacity int
}

// New constructs a Display handler.
func New(cfg Config, logger *log.Logger) *Display {
	if logger == nil {
		logger = log.Default()
	}
	return &Display{
		logger:       logger,
		cacheID:      cfg.CacheID,
		cacheSize:    cfg.CacheSize,
		glzDictID:    cfg.GlzDictID,
		surfaces:     newSurfaceManager(logger),
		cache:        NewCache(cfg.CacheCapacity),
		paletteCache: NewPaletteCache(cfg.PaletteCacheCapacity),
		streams:      make(map[uint32]*stream),
		limiters:     make(map[uint32]*rate.Limiter),
	}
}

// Bind attaches the owning channel and immediately sends the mandatory
// MSGC_DISPLAY_INIT (spec §4.6: "also mandatory for the server to send
// display data"). Call before the channel's Run loop starts.
func (d *Display) Bind(ch *channel.Channel) error {
	d.mu.Lock()
	d.ch = ch
	d.mu.Unlock()
	return ch.Send(wire.MsgcDisplayInit, wire.EncodeDisplayInit(d.cacheID, d.cacheSize, d.glzDictID))
}

// Surface returns a snapshot of the primary surface (id 0), or nil if
// it does not exist yet.
func (d *Display) Surface() *Surface {
	return d.surfaces.Snapshot(0)
}

// Monitors returns the last-known monitor layout.
func (d *Display) Monitors() []wire.Monitor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]wire.Monitor(nil), d.monitors...)
}

func (d *Display) notifyUpdate() {
	if d.OnUpdate != nil {
		d.OnUpdate()
	}
}

// HandleMessage implements channel.Handler.
func (d *Display) HandleMessage(msgType uint16, body []byte) error {
	switch msgType {
	case wire.MsgDisplayMode:
		d.logger.Printf("spice: display MODE (legacy, %d bytes)", len(body))
		return nil
	case wire.MsgDisplayMark:
		if d.OnMark != nil {
			d.OnMark()
		}
		return nil
	case wire.MsgDisplayReset:
		d.surfaces.reset()
		d.cache.InvalAll()
		d.paletteCache.InvalAll()
		return nil
	case wire.MsgDisplayInvalAllPixmaps:
		d.cache.InvalAll()
		return nil
	case wire.MsgDisplayInvalPalette:
		id, ok := wire.DecodeInvalPalette(body)
		if !ok {
			return fmt.Errorf("spice: short INVAL_PALETTE body (%d bytes)", len(body))
		}
		d.paletteCache.Inval(id)
		return nil
	case wire.MsgDisplayInvalAllPalettes:
		d.paletteCache.InvalAll()
		return nil
	case wire.MsgDisplaySurfaceCreate:
		return d.handleSurfaceCreate(body)
	case wire.MsgDisplaySurfaceDestroy:
		return d.handleSurfaceDestroy(body)
	case wire.MsgDisplayMonitorsConfig:
		return d.handleMonitorsConfig(body)
	case wire.MsgDisplayDrawFill:
		return d.handleDrawFill(body)
	case wire.MsgDisplayDrawCopy:
		return d.handleDrawCopy(body, "COPY")
	case wire.MsgDisplayDrawOpaque:
		d.logger.Printf("spice: DRAW_OPAQUE brush merge not implemented, rendering as plain copy")
		return d.handleDrawCopy(body, "OPAQUE")
	case wire.MsgDisplayDrawBlend, wire.MsgDisplayDrawTransparent, wire.MsgDisplayDrawAlphaBlend:
		d.logger.Printf("spice: display op %d falling back to COPY semantics", msgType)
		return d.handleDrawCopy(body, "BLEND-FALLBACK")
	case wire.MsgDisplayDrawComposite, wire.MsgDisplayDrawRop3, wire.MsgDisplayDrawStroke, wire.MsgDisplayDrawText:
		d.logger.Printf("spice: display op %d not implemented, ignoring", msgType)
		return nil
	case wire.MsgDisplayStreamCreate:
		return d.handleStreamCreate(body)
	case wire.MsgDisplayStreamData:
		return d.handleStreamData(body)
	case wire.MsgDisplayStreamDataSized:
		return d.handleStreamDataSized(body)
	case wire.MsgDisplayStreamClip:
		return d.handleStreamClip(body)
	case wire.MsgDisplayStreamDestroy:
		return d.handleStreamDestroy(body)
	case wire.MsgDisplayStreamDestroyAll:
		d.mu.Lock()
		d.streams = make(map[uint32]*stream)
		d.limiters = make(map[uint32]*rate.Limiter)
		d.mu.Unlock()
		return nil
	case wire.MsgDisplayStreamActivateReport:
		return d.handleStreamActivateReport(body)
	case wire.MsgDisplayCopyTiles, wire.MsgDisplayInvalListOfTiles:
		d.logger.Printf("spice: display tile op %d not implemented, ignoring", msgType)
		return nil
	default:
		d.logger.Printf("spice: display channel unhandled message type %d (%d bytes)", msgType, len(body))
		return nil
	}
}

func (d *Display) handleSurfaceCreate(body []byte) error {
	sc, ok := wire.DecodeSurfaceCreate(body)
	if !ok {
		return fmt.Errorf("spice: short SURFACE_CREATE body (%d bytes)", len(body))
	}
	d.surfaces.create(sc.SurfaceID, sc.Width, sc.Height)
	if sc.SurfaceID == 0 {
		d.notifyUpdate()
	}
	return nil
}

func (d *Display) handleSurfaceDestroy(body []byte) error {
	id, ok := wire.DecodeSurfaceDestroy(body)
	if !ok {
		return fmt.Errorf("spice: short SURFACE_DESTROY body (%d bytes)", len(body))
	}
	d.surfaces.destroy(id)
	return nil
}

func (d *Display) handleMonitorsConfig(body []byte) error {
	monitors, ok := wire.DecodeMonitorsConfig(body)
	if !ok {
		return fmt.Errorf("spice: short MONITORS_CONFIG body (%d bytes)", len(body))
	}
	d.mu.Lock()
	d.monitors = monitors
	d.mu.Unlock()
	return nil
}

func (d *Display) handleDrawFill(body []byte) error {
	fill, ok := wire.DecodeDrawFill(body)
	if !ok {
		return fmt.Errorf("spice: short DRAW_FILL body (%d bytes)", len(body))
	}
	var clipRects []wire.Rect
	if fill.Base.Clip.Type == wire.ClipTypeRects {
		rects, err := wire.DecodeClipRects(body, fill.Base.Clip)
		if err != nil {
			d.logger.Printf("spice: DRAW_FILL clip resolution failed: %v", err)
		}
		clipRects = rects
	}
	if fill.Brush.Type == wire.BrushPattern {
		d.logger.Printf("spice: DRAW_FILL pattern brush decoder absent, rendering average color")
	}
	if fill.Brush.Type == wire.BrushNone {
		return nil
	}
	d.surfaces.withSurface(fill.Base.SurfaceID, "DRAW_FILL", func(s *Surface) {
		r := clampRect(fill.Base.Box, s, clipRects)
		fillSolid(s, r, fill.Brush.Color)
	})
	if fill.Base.SurfaceID == 0 {
		d.notifyUpdate()
	}
	return nil
}

func (d *Display) handleDrawCopy(body []byte, opName string) error {
	cp, ok := wire.DecodeDrawCopy(body)
	if !ok {
		return fmt.Errorf("spice: short DRAW_%s body (%d bytes)", opName, len(body))
	}
	img, err := d.resolveImage(body, cp.SrcBitmap)
	if err != nil {
		d.logger.Printf("spice: DRAW_%s source image unresolved: %v", opName, err)
		return nil
	}
	if img == nil {
		return nil
	}
	if cp.ScaleMode == wire.ScaleModeInterpolate {
		d.logger.Printf("spice: DRAW_%s INTERPOLATE scaling approximated with nearest-neighbor", opName)
	}
	d.surfaces.withSurface(cp.Base.SurfaceID, "DRAW_"+opName, func(s *Surface) {
		blitCopy(s, cp.Base.Box, img, cp.SrcArea)
	})
	if cp.Base.SurfaceID == 0 {
		d.notifyUpdate()
	}
	return nil
}

// resolveImage resolves addr within body to a SpiceImage and decodes
// it, caching the result under its id when CACHE_ME is set. A nil,
// nil return means the address was absent or of the encoded
// (surface/cache) form this core cannot resolve (spec §4.6, §9) — the
// caller should skip the draw op without treating it as an error.
func (d *Display) resolveImage(body []byte, addr wire.SpiceAddress) (*Image, error) {
	headerBytes, encoded, err := wire.Resolve(body, addr, wire.SpiceImageHeaderSize)
	if err != nil {
		return nil, err
	}
	if encoded {
		return nil, nil
	}
	if headerBytes == nil {
		return nil, nil
	}
	header, ok := wire.DecodeSpiceImageHeader(headerBytes)
	if !ok {
		return nil, fmt.Errorf("short SpiceImage header")
	}
	if UnsupportedImageType(header.Type) {
		return nil, fmt.Errorf("image type %d detected but out of scope", header.Type)
	}
	decoder, ok := GetDecoder(header.Type)
	if !ok {
		return nil, fmt.Errorf("unknown image type %d", header.Type)
	}
	off := int(addr.SimpleOffset()) + wire.SpiceImageHeaderSize
	img, err := decoder.Decode(body[off:], decodeCtx{header: header, body: body, cache: d.cache, paletteCache: d.paletteCache})
	if err != nil {
		return nil, err
	}
	if header.Flags&wire.ImageCacheMe != 0 {
		d.cache.Put(header.ID, img)
	}
	return img, nil
}

func (d *Display) handleStreamCreate(body []byte) error {
	sc, ok := wire.DecodeStreamCreate(body)
	if !ok {
		return fmt.Errorf("spice: short STREAM_CREATE body (%d bytes)", len(body))
	}
	if sc.CodecType != wire.StreamCodecMJPEG {
		d.logger.Printf("spice: stream %d uses unsupported codec %d, frames will be dropped", sc.ID, sc.CodecType)
	}
	d.mu.Lock()
	d.streams[sc.ID] = newStream(sc)
	d.mu.Unlock()
	return nil
}

func (d *Display) handleStreamData(body []byte) error {
	sd, data, ok := wire.DecodeStreamData(body)
	if !ok {
		return fmt.Errorf("spice: short STREAM_DATA body (%d bytes)", len(body))
	}
	return d.applyStreamFrame(sd.ID, data)
}

func (d *Display) handleStreamDataSized(body []byte) error {
	id, _, _, _, data, ok := wire.DecodeStreamDataSized(body)
	if !ok {
		return fmt.Errorf("spice: short STREAM_DATA_SIZED body (%d bytes)", len(body))
	}
	return d.applyStreamFrame(id, data)
}

func (d *Display) applyStreamFrame(id uint32, data []byte) error {
	d.mu.Lock()
	st, ok := d.streams[id]
	d.mu.Unlock()
	if !ok {
		d.logger.Printf("spice: STREAM_DATA for unknown stream %d ignored", id)
		return nil
	}

	img, decoded := st.decodeFrame(data)
	if !decoded {
		st.dropsSinceReport++
		d.maybeSendReport(st)
		return nil
	}
	st.framesSinceReport++

	d.surfaces.withSurface(0, "STREAM_DATA", func(s *Surface) {
		blitCopy(s, st.dest, img, wire.Rect{Top: 0, Left: 0, Bottom: int32(img.Height), Right: int32(img.Width)})
	})
	d.notifyUpdate()
	d.maybeSendReport(st)
	return nil
}

func (d *Display) handleStreamClip(body []byte) error {
	id, clip, ok := wire.DecodeStreamClip(body)
	if !ok {
		return fmt.Errorf("spice: short STREAM_CLIP body (%d bytes)", len(body))
	}
	d.mu.Lock()
	if st, ok := d.streams[id]; ok {
		st.clip = clip
	}
	d.mu.Unlock()
	return nil
}

func (d *Display) handleStreamDestroy(body []byte) error {
	id, ok := wire.DecodeStreamID(body)
	if !ok {
		return fmt.Errorf("spice: short STREAM_DESTROY body (%d bytes)", len(body))
	}
	d.mu.Lock()
	delete(d.streams, id)
	delete(d.limiters, id)
	d.mu.Unlock()
	return nil
}

func (d *Display) handleStreamActivateReport(body []byte) error {
	ar, ok := wire.DecodeStreamActivateReport(body)
	if !ok {
		return fmt.Errorf("spice: short STREAM_ACTIVATE_REPORT body (%d bytes)", len(body))
	}
	d.mu.Lock()
	st, ok := d.streams[ar.StreamID]
	if ok {
		st.reportUniqueID = ar.UniqueID
		st.reportMaxWindow = ar.MaxWindowSize
		timeout := time.Duration(ar.TimeoutMs) * time.Millisecond
		if timeout <= 0 {
			timeout = time.Second
		}
		// One report permitted per timeout interval, paced with
		// golang.org/x/time/rate the same way outbound call rates are
		// gated elsewhere in this module.
		d.limiters[ar.StreamID] = rate.NewLimiter(rate.Every(timeout), 1)
	}
	d.mu.Unlock()
	return nil
}

func (d *Display) maybeSendReport(st *stream) {
	d.mu.Lock()
	limiter, ok := d.limiters[st.id]
	ch := d.ch
	d.mu.Unlock()
	if !ok || ch == nil || !limiter.Allow() {
		return
	}

	d.mu.Lock()
	frames, drops := st.framesSinceReport, st.dropsSinceReport
	st.framesSinceReport, st.dropsSinceReport = 0, 0
	uniqueID := st.reportUniqueID
	d.mu.Unlock()

	if err := ch.Send(wire.MsgcDisplayStreamReport, wire.EncodeStreamReport(st.id, uniqueID, frames, drops)); err != nil {
		d.logger.Printf("spice: sending STREAM_REPORT for stream %d failed: %v", st.id, err)
	}
}
