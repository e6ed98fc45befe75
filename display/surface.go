package display

import (
	"log"
	"sync"
)

// Surface is a pixel buffer a draw command targets, stored RGBA8888
// top-to-bottom (spec §4.6 SURFACE_CREATE).
type Surface struct {
	ID     uint32
	Width  uint32
	Height uint32
	Pix    []byte
}

func newSurface(id, width, height uint32) *Surface {
	return &Surface{ID: id, Width: width, Height: height, Pix: make([]byte, int(width)*int(height)*4)}
}

// At returns the RGBA8888 pixel at (x, y), or nil if out of bounds.
func (s *Surface) At(x, y int) []byte {
	if x < 0 || y < 0 || x >= int(s.Width) || y >= int(s.Height) {
		return nil
	}
	i := (y*int(s.Width) + x) * 4
	return s.Pix[i : i+4]
}

// surfaceManager owns every live surface, guarded by a mutex since the
// display channel's receive loop mutates it while consumers query it
// concurrently (spec §9 "Channel ownership and shared mutation").
type surfaceManager struct {
	mu       sync.Mutex
	surfaces map[uint32]*Surface
	logger   *log.Logger
}

func newSurfaceManager(logger *log.Logger) *surfaceManager {
	return &surfaceManager{surfaces: make(map[uint32]*Surface), logger: logger}
}

func (m *surfaceManager) create(id, width, height uint32) *Surface {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := newSurface(id, width, height)
	m.surfaces[id] = s
	return s
}

func (m *surfaceManager) destroy(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.surfaces, id)
}

func (m *surfaceManager) get(id uint32) (*Surface, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.surfaces[id]
	return s, ok
}

func (m *surfaceManager) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.surfaces = make(map[uint32]*Surface)
}

// withSurface looks up id and runs fn while holding the manager's own
// lock, so a concurrent Snapshot never observes a half-applied draw; a
// missing surface logs a warning and is a no-op, matching testable
// property #10 ("DRAW_* to a destroyed or never-created surface is a
// no-op with a warning; the channel remains healthy").
func (m *surfaceManager) withSurface(id uint32, op string, fn func(*Surface)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.surfaces[id]
	if !ok {
		m.logger.Printf("spice: display %s to unknown surface %d ignored", op, id)
		return
	}
	fn(s)
}

// Snapshot returns a copy of the surface with the given id (Display.Surface
// passes 0, the primary surface) for a consumer to read without racing
// the receive loop. Returns nil if no such surface exists yet.
func (m *surfaceManager) Snapshot(id uint32) *Surface {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.surfaces[id]
	if !ok {
		return nil
	}
	cp := &Surface{ID: s.ID, Width: s.Width, Height: s.Height, Pix: append([]byte(nil), s.Pix...)}
	return cp
}
