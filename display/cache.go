package display

import "container/list"

// Cache is a bounded, LRU-evicted store of decoded images keyed by the
// SpiceImage id the server assigned (spec §4.6 CACHE_ME / FROM_CACHE,
// testable property #9). No cache/LRU library appears anywhere in the
// example pack, so this is a small stdlib container/list-backed
// implementation rather than a hand-rolled map with no eviction policy.
type Cache struct {
	maxEntries int
	ll         *list.List
	items      map[uint64]*list.Element
}

type cacheEntry struct {
	id  uint64
	img *Image
}

// NewCache constructs an image cache holding at most maxEntries images.
// maxEntries <= 0 means unbounded.
func NewCache(maxEntries int) *Cache {
	return &Cache{
		maxEntries: maxEntries,
		ll:         list.New(),
		items:      make(map[uint64]*list.Element),
	}
}

// Put stores img under id, evicting the least-recently-used entry if
// the cache is at capacity.
func (c *Cache) Put(id uint64, img *Image) {
	if el, ok := c.items[id]; ok {
		el.Value.(*cacheEntry).img = img
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&cacheEntry{id: id, img: img})
	c.items[id] = el
	if c.maxEntries > 0 {
		for c.ll.Len() > c.maxEntries {
			oldest := c.ll.Back()
			if oldest == nil {
				break
			}
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).id)
		}
	}
}

// Get looks up id, promoting it to most-recently-used on a hit.
func (c *Cache) Get(id uint64) (*Image, bool) {
	el, ok := c.items[id]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).img, true
}

// InvalAll drops every cached entry (RESET, INVAL_ALL_PIXMAPS).
func (c *Cache) InvalAll() {
	c.ll = list.New()
	c.items = make(map[uint64]*list.Element)
}
