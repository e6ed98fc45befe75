// Package spiceclient is the consumer-facing orchestrator (spec §4.9):
// it drives the main-channel handshake, discovers and opens the
// secondary channels CHANNELS_LIST names, and exposes surface/cursor
// reads plus input sends to external callers regardless of whether the
// per-channel receive loops have already started.
//
// Its connection state lives in channels map[uint8][]*channel.Channel
// protected by a mutex, the same shape a connection pool keyed by
// round-robin selection would use, except channel discovery comes from
// MAIN_CHANNELS_LIST rather than a load balancer's Pick, and every
// channel is opened once rather than pooled.
package spiceclient

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"spice/chanmiddleware"
	"spice/channel"
	"spice/cursor"
	"spice/display"
	"spice/handshake"
	"spice/inputs"
	"spice/mainchannel"
	"spice/spiceerr"
	"spice/transport"
	"spice/wire"
)

// defaultDialRetryBaseDelay is used when Options.DialRetryBaseDelay is
// unset.
const defaultDialRetryBaseDelay = 100 * time.Millisecond

// ConnState is the orchestrator's single observable connection state
// (spec §7: "surfaces a single connection state observable"), stored as
// an atomic enum rather than a bare bool since there are more than two
// states to track.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateHandshakeDone
	StateReady
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshakeDone:
		return "handshake-done"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Dialer opens a fresh transport for one channel attempt. The same
// server address is dialed once per channel (SPICE channels are
// independent connections to the same endpoint; spec §6).
type Dialer interface {
	Dial() (transport.Transport, error)
}

// TCPDialer dials addr fresh for every channel.
type TCPDialer struct {
	Addr string
}

func (d TCPDialer) Dial() (transport.Transport, error) {
	return transport.DialTCP("tcp", d.Addr)
}

// WebSocketDialer dials url fresh for every channel.
type WebSocketDialer struct {
	URL string
}

func (d WebSocketDialer) Dial() (transport.Transport, error) {
	return transport.DialWebSocket(d.URL)
}

// Options configures a Client.
type Options struct {
	Password      string
	Logger        *log.Logger
	ImageCacheCap int // display image cache entry capacity; 0 uses display's own default

	// DialRetries is the number of additional attempts chanmiddleware.RetryDial
	// makes, with exponential backoff, if a channel's initial dial fails.
	// 0 means a single attempt, same as calling the Dialer directly.
	DialRetries int
	// DialRetryBaseDelay is the base delay RetryDial's backoff uses
	// (baseDelay * 2^attempt); <= 0 defaults to 100ms.
	DialRetryBaseDelay time.Duration
}

// Client is the consumer-facing SPICE client handle.
type Client struct {
	dialer Dialer
	opts   Options
	logger *log.Logger

	state    atomic.Int32
	lastErrM sync.Mutex
	lastErr  error

	mu       sync.Mutex
	channels map[uint8][]*channel.Channel
	pending  []*channel.Channel // secondary channels linked but not yet running (spec §4.9: connect vs start_event_loop)
	main     *mainchannel.Main
	display  *display.Display
	cursor   *cursor.Cursor
	inputs   *inputs.Inputs

	// displayCh/cursorCh deliver update notifications as Go channels —
	// the idiomatic replacement for spec §6's language-neutral
	// "subscribe" verb. Each is buffered 1 and notifyDisplay/
	// notifyCursor send non-blocking, coalescing bursts of updates into
	// a single pending notification the caller drains at its own pace.
	displayCh chan struct{}
	cursorCh  chan struct{}

	chansListed chan struct{}
	listedOnce  sync.Once
}

// New constructs a Client bound to dialer. Connect must be called before
// any channel is usable.
func New(dialer Dialer, opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Client{
		dialer:      dialer,
		opts:        opts,
		logger:      opts.Logger,
		channels:    make(map[uint8][]*channel.Channel),
		displayCh:   make(chan struct{}, 1),
		cursorCh:    make(chan struct{}, 1),
		chansListed: make(chan struct{}),
	}
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

// LastError returns the most recent fatal error observed by any channel,
// or nil.
func (c *Client) LastError() error {
	c.lastErrM.Lock()
	defer c.lastErrM.Unlock()
	return c.lastErr
}

func (c *Client) setErr(err error) {
	c.lastErrM.Lock()
	c.lastErr = err
	c.lastErrM.Unlock()
}

// DisplayUpdates returns the channel that receives a value after every
// display surface change (spec §6: "Subscribe to display-update ...
// notifications"). Bursts of updates are coalesced: if the caller
// hasn't drained the previous notification yet, a new one is not
// queued behind it.
func (c *Client) DisplayUpdates() <-chan struct{} {
	return c.displayCh
}

// CursorUpdates returns the channel that receives a value after every
// cursor state change.
func (c *Client) CursorUpdates() <-chan struct{} {
	return c.cursorCh
}

func (c *Client) notifyDisplay() {
	select {
	case c.displayCh <- struct{}{}:
	default:
	}
}

func (c *Client) notifyCursor() {
	select {
	case c.cursorCh <- struct{}{}:
	default:
	}
}

// SessionID returns the session id learned from MAIN_INIT, or 0 before
// Connect has completed.
func (c *Client) SessionID() uint32 {
	c.mu.Lock()
	m := c.main
	c.mu.Unlock()
	if m == nil {
		return 0
	}
	return m.State().SessionID
}

// Surface returns the primary display surface, or nil before any
// SURFACE_CREATE has arrived or before Connect has completed.
func (c *Client) Surface() *display.Surface {
	c.mu.Lock()
	d := c.display
	c.mu.Unlock()
	if d == nil {
		return nil
	}
	return d.Surface()
}

// Cursor returns the current cursor state.
func (c *Client) Cursor() cursor.State {
	c.mu.Lock()
	cur := c.cursor
	c.mu.Unlock()
	if cur == nil {
		return cursor.State{}
	}
	return cur.State()
}

// SendKeyDown/SendKeyUp forward to the inputs channel.
func (c *Client) SendKeyDown(code uint32) error {
	in, err := c.inputsHandle()
	if err != nil {
		return err
	}
	return in.SendKeyDown(code)
}

func (c *Client) SendKeyUp(code uint32) error {
	in, err := c.inputsHandle()
	if err != nil {
		return err
	}
	return in.SendKeyUp(code)
}

// SendMouseMotion forwards to the inputs channel (server mouse mode).
func (c *Client) SendMouseMotion(dx, dy int32, buttonsState uint16) error {
	in, err := c.inputsHandle()
	if err != nil {
		return err
	}
	return in.SendMouseMotion(dx, dy, buttonsState)
}

// SendMousePosition forwards to the inputs channel (client mouse mode).
func (c *Client) SendMousePosition(x, y int32, buttonsState uint16, displayID uint8) error {
	in, err := c.inputsHandle()
	if err != nil {
		return err
	}
	return in.SendMousePosition(x, y, buttonsState, displayID)
}

// SendMousePress/SendMouseRelease forward to the inputs channel.
func (c *Client) SendMousePress(button uint8, buttonsState uint16) error {
	in, err := c.inputsHandle()
	if err != nil {
		return err
	}
	return in.SendMousePress(button, buttonsState)
}

func (c *Client) SendMouseRelease(button uint8, buttonsState uint16) error {
	in, err := c.inputsHandle()
	if err != nil {
		return err
	}
	return in.SendMouseRelease(button, buttonsState)
}

func (c *Client) inputsHandle() (*inputs.Inputs, error) {
	c.mu.Lock()
	in := c.inputs
	c.mu.Unlock()
	if in == nil {
		return nil, spiceerr.ErrNotConnected
	}
	return in, nil
}

// Connect opens the main channel, completes its handshake and bootstrap
// (MAIN_INIT → ATTACH_CHANNELS → CHANNELS_LIST), then opens every
// secondary channel CHANNELS_LIST named. It returns once the channel
// list has been received, matching spec §4.9's "completes when main
// channel is up and channel list has been received".
func (c *Client) Connect(ctx context.Context) error {
	c.state.Store(int32(StateConnecting))

	main, err := c.openMain(ctx)
	if err != nil {
		c.setErr(err)
		c.state.Store(int32(StateDisconnected))
		return err
	}
	c.state.Store(int32(StateHandshakeDone))

	c.mu.Lock()
	c.main = main
	c.mu.Unlock()

	select {
	case <-c.chansListed:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.state.Store(int32(StateReady))
	return nil
}

// dial opens a fresh transport through c.dialer, retrying with
// exponential backoff via chanmiddleware.RetryDial per Options.DialRetries.
func (c *Client) dial(ctx context.Context) (transport.Transport, error) {
	baseDelay := c.opts.DialRetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultDialRetryBaseDelay
	}
	var t transport.Transport
	err := chanmiddleware.RetryDial(ctx, c.opts.DialRetries, baseDelay, func() error {
		conn, dialErr := c.dialer.Dial()
		if dialErr != nil {
			return dialErr
		}
		t = conn
		return nil
	})
	return t, err
}

func (c *Client) openMain(ctx context.Context) (*mainchannel.Main, error) {
	t, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("spice: dial main channel: %w", err)
	}

	caps := wire.SetCap(nil, wire.CapMainAgentConnectedTokens)
	cfg := handshake.Config{
		ConnectionID: 0,
		ChannelType:  wire.ChannelMain,
		ChannelID:    0,
		CommonCaps:   wire.SetCap(nil, wire.CapCommonAuthSelection),
		ChannelCaps:  caps,
		Password:     c.opts.Password,
	}
	if _, err := handshake.Do(ctx, t, cfg); err != nil {
		t.Close()
		return nil, fmt.Errorf("spice: main channel handshake: %w", err)
	}

	m := mainchannel.New(c.logger)
	ch := channel.New(wire.ChannelMain, 0, t, m, c.logger)
	m.SetChannel(ch)
	m.OnChannelsList = func(sessionID uint32, descriptors []wire.ChannelDescriptor) {
		c.openSecondaryChannels(ctx, sessionID, descriptors)
		c.listedOnce.Do(func() { close(c.chansListed) })
	}

	c.addChannel(ch, true)
	return m, nil
}

func (c *Client) openSecondaryChannels(ctx context.Context, sessionID uint32, descriptors []wire.ChannelDescriptor) {
	for _, d := range descriptors {
		switch d.Type {
		case wire.ChannelDisplay:
			if err := c.openDisplay(ctx, sessionID, d.ID); err != nil {
				c.logger.Printf("spice: open display channel %d: %v", d.ID, err)
				c.setErr(err)
			}
		case wire.ChannelCursor:
			if err := c.openCursor(ctx, sessionID, d.ID); err != nil {
				c.logger.Printf("spice: open cursor channel %d: %v", d.ID, err)
				c.setErr(err)
			}
		case wire.ChannelInputs:
			if err := c.openInputs(ctx, sessionID, d.ID); err != nil {
				c.logger.Printf("spice: open inputs channel %d: %v", d.ID, err)
				c.setErr(err)
			}
		default:
			c.logger.Printf("spice: CHANNELS_LIST named unsupported channel type %d, skipping", d.Type)
		}
	}
}

func (c *Client) linkChannel(ctx context.Context, channelType, channelID uint8, sessionID uint32, channelCaps []uint32) (transport.Transport, error) {
	t, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("spice: dial channel type %d: %w", channelType, err)
	}
	cfg := handshake.Config{
		ConnectionID: sessionID,
		ChannelType:  channelType,
		ChannelID:    channelID,
		CommonCaps:   wire.SetCap(nil, wire.CapCommonAuthSelection),
		ChannelCaps:  channelCaps,
		Password:     c.opts.Password,
	}
	if _, err := handshake.Do(ctx, t, cfg); err != nil {
		t.Close()
		return nil, fmt.Errorf("spice: channel type %d handshake: %w", channelType, err)
	}
	return t, nil
}

func (c *Client) openDisplay(ctx context.Context, sessionID uint32, channelID uint8) error {
	caps := wire.SetCap(nil, wire.CapDisplaySizedStream)
	caps = wire.SetCap(caps, wire.CapDisplayStreamReport)
	caps = wire.SetCap(caps, wire.CapDisplayMultiCodec)
	caps = wire.SetCap(caps, wire.CapDisplayCodecMJPEG)
	t, err := c.linkChannel(ctx, wire.ChannelDisplay, channelID, sessionID, caps)
	if err != nil {
		return err
	}

	d := display.New(display.Config{CacheCapacity: c.opts.ImageCacheCap}, c.logger)
	d.OnUpdate = c.notifyDisplay
	ch := channel.New(wire.ChannelDisplay, channelID, t, d, c.logger)
	if err := d.Bind(ch); err != nil {
		t.Close()
		return err
	}

	c.mu.Lock()
	c.display = d
	c.mu.Unlock()
	c.addChannel(ch, false)
	return nil
}

func (c *Client) openCursor(ctx context.Context, sessionID uint32, channelID uint8) error {
	t, err := c.linkChannel(ctx, wire.ChannelCursor, channelID, sessionID, nil)
	if err != nil {
		return err
	}

	cur := cursor.New(c.logger)
	cur.OnUpdate = c.notifyCursor
	ch := channel.New(wire.ChannelCursor, channelID, t, cur, c.logger)

	c.mu.Lock()
	c.cursor = cur
	c.mu.Unlock()
	c.addChannel(ch, false)
	return nil
}

func (c *Client) openInputs(ctx context.Context, sessionID uint32, channelID uint8) error {
	t, err := c.linkChannel(ctx, wire.ChannelInputs, channelID, sessionID, nil)
	if err != nil {
		return err
	}

	in := inputs.New(c.logger, 0, 0)
	ch := channel.New(wire.ChannelInputs, channelID, t, in, c.logger)
	in.Bind(ch)

	c.mu.Lock()
	c.inputs = in
	c.mu.Unlock()
	c.addChannel(ch, false)
	return nil
}

// addChannel records ch for the orchestrator's whole lifetime. startNow
// spawns its receive loop immediately (only the main channel needs
// this, to observe CHANNELS_LIST during Connect); secondary channels
// are queued and only start once StartEventLoop is called (spec §4.9).
func (c *Client) addChannel(ch *channel.Channel, startNow bool) {
	c.mu.Lock()
	c.channels[ch.Type] = append(c.channels[ch.Type], ch)
	if startNow {
		go c.runChannel(ch)
	} else {
		c.pending = append(c.pending, ch)
	}
	c.mu.Unlock()
}

// StartEventLoop spawns the receive loop for every channel linked but
// not yet running (every secondary channel opened during Connect) and
// returns immediately; all channels remain accessible through Surface,
// Cursor, and the Send* methods regardless of whether this has been
// called yet, since they are held by pointer rather than moved into any
// loop's closure state (spec §4.9's hard contract).
func (c *Client) StartEventLoop() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, ch := range pending {
		go c.runChannel(ch)
	}
}

// runChannel drives one channel's receive loop. Channels are held by
// pointer in c.channels for the orchestrator's whole lifetime — never
// moved into this goroutine's closure state — so Send/Surface/Cursor
// calls keep working after the loop starts (spec §4.9's hard contract).
func (c *Client) runChannel(ch *channel.Channel) {
	if err := ch.Run(); err != nil {
		c.logger.Printf("spice: channel %d/%d exited: %v", ch.Type, ch.ID, err)
		c.setErr(err)
	}
}

// Disconnect cancels every channel by closing its transport and drops
// orchestrator state (spec §4.9).
func (c *Client) Disconnect() error {
	c.state.Store(int32(StateClosing))
	c.mu.Lock()
	channels := c.channels
	c.channels = make(map[uint8][]*channel.Channel)
	c.mu.Unlock()

	var firstErr error
	for _, group := range channels {
		for _, ch := range group {
			if err := ch.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	c.state.Store(int32(StateClosed))
	return firstErr
}
