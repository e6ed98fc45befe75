// Package cursor implements the cursor channel (spec §4.7): shape
// decoding, position/visibility tracking, and trail/inval bookkeeping.
package cursor

import (
	"fmt"
	"log"
	"sync"

	"spice/wire"
)

// State is the consumer-visible cursor state snapshot.
type State struct {
	Position Point
	Visible  bool
	Shape    *Shape // nil until the first CURSOR_INIT/CURSOR_SET with a shape
}

// Point mirrors wire.Point to keep this package's public API
// independent of the wire layer's internal layout choices.
type Point struct {
	X, Y int32
}

// Cursor implements channel.Handler for the cursor channel.
type Cursor struct {
	logger *log.Logger

	mu             sync.Mutex
	state          State
	trailLength    uint16
	trailFrequency uint16

	// OnUpdate is invoked after any state change a consumer would want
	// to redraw for (position, visibility, or shape).
	OnUpdate func()
}

// New constructs a Cursor handler.
func New(logger *log.Logger) *Cursor {
	if logger == nil {
		logger = log.Default()
	}
	return &Cursor{logger: logger}
}

// State returns a snapshot of the current cursor state.
func (c *Cursor) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Cursor) notify() {
	if c.OnUpdate != nil {
		c.OnUpdate()
	}
}

// HandleMessage implements channel.Handler.
func (c *Cursor) HandleMessage(msgType uint16, body []byte) error {
	switch msgType {
	case wire.MsgCursorInit:
		return c.handleInit(body)
	case wire.MsgCursorSet:
		return c.handleSet(body)
	case wire.MsgCursorMove:
		return c.handleMove(body)
	case wire.MsgCursorHide:
		c.mu.Lock()
		c.state.Visible = false
		c.mu.Unlock()
		c.notify()
		return nil
	case wire.MsgCursorTrail:
		return c.handleTrail(body)
	case wire.MsgCursorReset, wire.MsgCursorInvalOne, wire.MsgCursorInvalAll:
		// No cache of our own shapes beyond the current one; reset just
		// clears it, matching "clear caches" (spec §4.7).
		c.mu.Lock()
		c.state.Shape = nil
		c.mu.Unlock()
		return nil
	default:
		c.logger.Printf("spice: cursor channel unhandled message type %d (%d bytes)", msgType, len(body))
		return nil
	}
}

func (c *Cursor) handleInit(body []byte) error {
	init, ok := wire.DecodeCursorInit(body)
	if !ok {
		return fmt.Errorf("spice: short CURSOR_INIT body (%d bytes)", len(body))
	}
	var shape *Shape
	if init.Shape != nil {
		s, err := decodeShape(init.Shape, init.ShapeData)
		if err != nil {
			c.logger.Printf("spice: CURSOR_INIT shape decode failed: %v", err)
		} else {
			shape = s
		}
	}
	c.mu.Lock()
	c.state = State{Position: Point{X: init.Position.X, Y: init.Position.Y}, Visible: init.Visible, Shape: shape}
	c.trailLength = init.TrailLength
	c.trailFrequency = init.TrailFrequency
	c.mu.Unlock()
	c.notify()
	return nil
}

func (c *Cursor) handleSet(body []byte) error {
	set, ok := wire.DecodeCursorSet(body)
	if !ok {
		return fmt.Errorf("spice: short CURSOR_SET body (%d bytes)", len(body))
	}
	shape, err := decodeShape(set.Shape, set.ShapeData)
	if err != nil {
		return fmt.Errorf("spice: CURSOR_SET shape decode failed: %w", err)
	}
	c.mu.Lock()
	c.state.Position = Point{X: set.Position.X, Y: set.Position.Y}
	c.state.Visible = set.Visible
	c.state.Shape = shape
	c.mu.Unlock()
	c.notify()
	return nil
}

func (c *Cursor) handleMove(body []byte) error {
	pos, ok := wire.DecodeCursorMove(body)
	if !ok {
		return fmt.Errorf("spice: short CURSOR_MOVE body (%d bytes)", len(body))
	}
	c.mu.Lock()
	c.state.Position = Point{X: pos.X, Y: pos.Y}
	c.mu.Unlock()
	c.notify()
	return nil
}

func (c *Cursor) handleTrail(body []byte) error {
	length, frequency, ok := wire.DecodeCursorTrail(body)
	if !ok {
		return fmt.Errorf("spice: short CURSOR_TRAIL body (%d bytes)", len(body))
	}
	c.mu.Lock()
	c.trailLength = length
	c.trailFrequency = frequency
	c.mu.Unlock()
	return nil
}
