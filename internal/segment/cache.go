package segment

import "container/list"

// Cache is a small fixed-capacity LRU of open historical segment handles,
// keyed by epoch. The current (writable) segment is never stored here —
// the store holds it directly. Cache exists purely to avoid reopening a
// file handle on every cross-epoch Get; a miss falls back to OpenReadOnly.
type Cache struct {
	capacity int
	dir      string
	order    *list.List
	items    map[uint64]*list.Element
}

type cacheEntry struct {
	epoch uint64
	seg   *Segment
}

// NewCache returns a Cache that opens segments from dir on demand and
// keeps at most capacity of them open at once.
func NewCache(dir string, capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		dir:      dir,
		order:    list.New(),
		items:    make(map[uint64]*list.Element),
	}
}

// Get returns an open handle for epoch, opening and caching it if it is
// not already resident. The eviction of a handle to make room closes it.
func (c *Cache) Get(epoch uint64) (*Segment, error) {
	if el, ok := c.items[epoch]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*cacheEntry).seg, nil
	}

	seg, err := OpenReadOnly(c.dir, epoch)
	if err != nil {
		return nil, err
	}

	el := c.order.PushFront(&cacheEntry{epoch: epoch, seg: seg})
	c.items[epoch] = el

	if c.order.Len() > c.capacity {
		c.evictOldest()
	}

	return seg, nil
}

func (c *Cache) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	entry := el.Value.(*cacheEntry)
	c.order.Remove(el)
	delete(c.items, entry.epoch)
	_ = entry.seg.Close()
}

// InvalidateBelow closes and evicts every cached handle with an epoch
// strictly less than rmUntil. Call this after compaction deletes those
// segments from disk so the cache never serves a stale, deleted file.
func (c *Cache) InvalidateBelow(rmUntil uint64) {
	for epoch, el := range c.items {
		if epoch < rmUntil {
			c.order.Remove(el)
			delete(c.items, epoch)
			_ = el.Value.(*cacheEntry).seg.Close()
		}
	}
}

// Close closes every cached handle.
func (c *Cache) Close() error {
	var firstErr error
	for _, el := range c.items {
		if err := el.Value.(*cacheEntry).seg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.items = make(map[uint64]*list.Element)
	c.order.Init()
	return firstErr
}
